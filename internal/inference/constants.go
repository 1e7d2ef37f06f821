package inference

import "time"

// Client configuration defaults
const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	MethodRecognize = "/livetag.inference.v1.OCR/Recognize"
	MethodClassify  = "/livetag.inference.v1.Classifier/Classify"
)
