package shared

// DomainError is an error with a stable code, mapped onto API error codes
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// ErrAlreadyExists reports a uniqueness violation
var ErrAlreadyExists = NewDomainError("ALREADY_EXISTS", "Resource already exists")
