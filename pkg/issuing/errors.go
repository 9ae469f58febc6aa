package issuing

// ValidationError is returned by Validate when a request would be rejected
// before it reaches the card-issuing provider.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
