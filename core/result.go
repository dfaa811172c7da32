package core

// RunResult is the buffered outcome of ThreadHandle.Run.
//
// Text is always populated (possibly empty). JSON is set only when an output
// schema was requested and the output validated against it.
type RunResult struct {
	ThreadID string  `json:"thread_id,omitempty"`
	Text     string  `json:"text"`
	JSON     any     `json:"json,omitempty"`
	Usage    *Usage  `json:"usage,omitempty"`
	Events   []Event `json:"events,omitempty"`
}
