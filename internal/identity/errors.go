package identity

import "fmt"

// Error codes reported by the identity provider.
const (
	CodeEmailAlreadyInUse = "auth/email-already-in-use"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeWeakPassword      = "auth/weak-password"
	CodeWrongPassword     = "auth/wrong-password"
	CodeUserNotFound      = "auth/user-not-found"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeSessionRevoked    = "auth/session-revoked"
	CodeInternal          = "auth/internal-error"
)

// AuthError is a rejection from the identity provider. Callers surface it
// as-is; nothing retries it.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func authErr(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

func internalErr(err error) *AuthError {
	return &AuthError{Code: CodeInternal, Message: err.Error()}
}
