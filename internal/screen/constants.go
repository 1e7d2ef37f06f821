package screen

import "time"

// DefaultTimeout bounds a single invocation of the platform screenshot tool.
const DefaultTimeout = 5 * time.Second

const rawFileName = "screenshot.png"
