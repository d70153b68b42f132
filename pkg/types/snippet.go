package types

// Snippet contains context around a match.
type Snippet struct {
	Before   []byte `json:"before,omitempty"`   // lines before the match
	Matching []byte `json:"matching"`           // the matched bytes
	After    []byte `json:"after,omitempty"`    // lines after the match
}
