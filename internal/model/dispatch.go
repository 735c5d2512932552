package model

// DispatchResult summarises a single push attempt. Either the exchange
// completed (StatusCode/ResponseText) or it did not (Error), never both.
type DispatchResult struct {
	StatusCode   int    `json:"status_code,omitempty"`
	ResponseText string `json:"response_text,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Failed builds a result for a push that could not be sent.
func Failed(reason string) DispatchResult {
	return DispatchResult{Error: reason}
}

// Completed builds a result for a push the backend answered.
func Completed(statusCode int, text string) DispatchResult {
	return DispatchResult{StatusCode: statusCode, ResponseText: text}
}

// Sent reports whether the backend answered, regardless of status code.
func (r DispatchResult) Sent() bool {
	return r.Error == ""
}
