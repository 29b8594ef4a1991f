package protocol

import "fmt"

// Domain error codes. E001/E009/E099 are retryable by contract; the client
// retry policy keys off these plus transport failures.
const (
	ErrServiceUnavailable  = "E001" // receiver up but temporarily unable to serve
	ErrRegistrationClosed  = "E002" // capacity reached or registration window over
	ErrInvalidChoice       = "E003" // parity outside {even, odd}
	ErrUnknownMatch        = "E004" // match_id not in the schedule
	ErrDuplicateReport     = "E005" // match already reported (acknowledged, not retried)
	ErrInternalRetryable   = "E009" // transient internal failure
	ErrAuthTokenMissing    = "E011"
	ErrAuthTokenInvalid    = "E012"
	ErrTransient           = "E099" // catch-all transient
)

// DomainError is the league-level error payload carried inside JSON-RPC
// error data for code -32000.
type DomainError struct {
	ErrorCode        string            `json:"error_code"`
	ErrorDescription string            `json:"error_description"`
	Context          map[string]string `json:"context,omitempty"`
	Retryable        bool              `json:"retryable"`
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorDescription)
}

// NewDomainError builds a DomainError with retryability derived from the code.
func NewDomainError(code, description string) *DomainError {
	return &DomainError{
		ErrorCode:        code,
		ErrorDescription: description,
		Retryable:        RetryableCode(code),
	}
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *DomainError) WithContext(key, value string) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// RetryableCode reports whether callers should retry a given error code.
func RetryableCode(code string) bool {
	switch code {
	case ErrServiceUnavailable, ErrInternalRetryable, ErrTransient:
		return true
	}
	return false
}
