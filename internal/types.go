package internal

import "time"

// Fragment is one unit of text supplied by the requester to be paraphrased.
// Immutable once created; SourceOrder is the position in the user-supplied
// list and drives output ordering, not document ordering.
type Fragment struct {
	ID           string `json:"id"`
	OriginalText string `json:"original_text"`
	SourceOrder  int    `json:"source_order"`
}

// ParaphraseRequest is the persisted record of one processing request.
type ParaphraseRequest struct {
	ID            string    `json:"id"`
	DocumentName  string    `json:"document_name"`
	FragmentCount int       `json:"fragment_count"`
	Timestamp     time.Time `json:"timestamp"`
}
