package history

import "fmt"

// Pair is the deduplication key of a saved artifact.
type Pair struct {
	Identifier string `json:"identifier"`
	Serial     string `json:"serial"`
}

// Valid reports whether both halves are present.
func (p Pair) Valid() bool {
	return p.Identifier != "" && p.Serial != ""
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Identifier, p.Serial)
}
