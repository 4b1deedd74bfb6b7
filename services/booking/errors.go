package booking

import "fmt"

// FlowError marks a wizard-state problem (wrong step, missing selection) as
// opposed to a storage or lease failure.
type FlowError struct {
	Code    string
	Message string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewFlowError(code, msg string) error {
	return &FlowError{Code: code, Message: msg}
}
