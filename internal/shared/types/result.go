package types

// Result represents a lifecycle operation outcome. Failed hook runs
// and manager errors are converted into Results; they never escape
// the dispatcher as panics.
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *string                `json:"error,omitempty"`
	Step    Step                   `json:"step,omitempty"`

	// Err carries the original error chain for sentinel checks at the
	// API boundary. It never serializes.
	Err error `json:"-"`
}

// Ok builds a successful result
func Ok(message string, data map[string]interface{}) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

// Failed builds a failed result, lifting the step tag when the error
// chain carries one
func Failed(err error) *Result {
	msg := err.Error()
	res := &Result{Success: false, Error: &msg, Err: err}
	if oe, ok := AsOpError(err); ok {
		res.Step = oe.Step
		res.Message = oe.Message
	}
	return res
}
