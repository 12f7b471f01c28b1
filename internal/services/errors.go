package services

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }
