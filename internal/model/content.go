package model

// WrittenContent is one generated issue variant ranked by its EQS
// (content-quality score).
type WrittenContent struct {
	VariantID string         `json:"variant_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Labels    []string       `json:"labels"`
	EQSScore  float64        `json:"eqs_score"`
	Metadata  map[string]any `json:"metadata"`
}
