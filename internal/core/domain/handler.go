package domain

import "fmt"

// HandlerResult is the typed record of one handler execution for one
// (action, stage). Fields carries handler-specific extras and is queryable by
// downstream handlers (the SQS handler attaches prior results to its outgoing
// message).
type HandlerResult struct {
	Handler string         `json:"handler"`
	Action  Action         `json:"action"`
	Stage   Stage          `json:"stage"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Field returns a named extra field and whether it was present.
func (r HandlerResult) Field(name string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[name]
	return v, ok
}

// HandlerError is the error type handlers raise from Execute. Terminate
// decides the orchestrator's reaction: true aborts the whole run, false is
// logged and the remaining handlers keep executing. The flag is a per-handler
// policy decision, usually derived from the handler's required option.
type HandlerError struct {
	Handler   string
	Terminate bool
	Err       error
}

func (e *HandlerError) Error() string {
	severity := "recoverable"
	if e.Terminate {
		severity = "fatal"
	}
	return fmt.Sprintf("handler %q %s error: %v", e.Handler, severity, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// NewHandlerError builds a HandlerError with an explicit terminate flag.
func NewHandlerError(handler string, terminate bool, err error) *HandlerError {
	return &HandlerError{Handler: handler, Terminate: terminate, Err: err}
}
