package session

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeDuplicateAccount  = "duplicate_account"
	TextCodeWeakCredential    = "weak_credential"
	TextCodeInvalidCreds      = "invalid_credentials"
	TextCodeEmailNotVerified  = "email_not_verified"
	TextCodeTooManyRequests   = "too_many_requests"
	TextCodeUnauthorized      = "unauthorized"
	TextCodeForbidden         = "forbidden"
	TextCodeNotFound          = "not_found"
	TextCodeServerError       = "server_error"
	TextCodeNetworkFailure    = "network_failure"
	TextCodeMalformedRequest  = "malformed_request"
	TextCodeInvalidTransition = "invalid_session_transition"
	TextCodeFederatedExpired  = "federated_session_expired"
	TextCodeSuperseded        = "operation_superseded"
)

// ErrDuplicateAccount is returned when registration hits an existing account.
var ErrDuplicateAccount = goerrors.New("an account with this email already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateAccount).
	WithCode(goerrors.CodeConflict)

// ErrWeakCredential is returned when the provider rejects a password as too weak.
var ErrWeakCredential = goerrors.New("the password does not meet provider requirements", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakCredential).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidCredentials is returned for a bad email/password pair.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailNotVerified distinguishes an unverified account from plain bad
// credentials; it is the only condition that moves the session to
// PendingVerification instead of Failed.
var ErrEmailNotVerified = goerrors.New("email address has not been verified", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrTooManyRequests is returned when the backend rate-limits an operation,
// e.g. resending a verification email inside the cooldown window.
var ErrTooManyRequests = goerrors.New("too many requests, try again later", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyRequests)

// ErrUnauthorized classifies responses rejected for a missing, invalid, or
// expired credential.
var ErrUnauthorized = goerrors.New("request was not authorized", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthorized).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden classifies responses rejected despite a valid credential.
var ErrForbidden = goerrors.New("insufficient rights for this resource", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrNotFound classifies responses for missing resources.
var ErrNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrServer classifies 5xx-equivalent backend failures.
var ErrServer = goerrors.New("the server failed to process the request", goerrors.CategoryInternal).
	WithTextCode(TextCodeServerError).
	WithCode(goerrors.CodeInternal)

// ErrNetwork classifies calls where no response reached the caller.
var ErrNetwork = goerrors.New("network failure, no response received", goerrors.CategoryOperation).
	WithTextCode(TextCodeNetworkFailure)

// ErrMalformedRequest classifies caller errors rejected by the backend.
var ErrMalformedRequest = goerrors.New("the request was malformed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMalformedRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when an operation is not valid from the
// current session state, e.g. resending verification while authenticated.
var ErrInvalidTransition = goerrors.New("operation not valid in current session state", goerrors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeConflict)

// ErrFederatedSessionExpired is returned when a federated credential cannot
// be derived because the provider session is gone.
var ErrFederatedSessionExpired = goerrors.New("federated provider session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeFederatedExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrSuperseded is returned when an operation completes after a newer user
// action already advanced the session; its result is discarded, never
// applied.
var ErrSuperseded = goerrors.New("operation superseded by a newer action", goerrors.CategoryConflict).
	WithTextCode(TextCodeSuperseded).
	WithCode(goerrors.CodeConflict)

// IsEmailNotVerified reports whether err carries the EmailNotVerified code.
func IsEmailNotVerified(err error) bool {
	return hasTextCode(err, TextCodeEmailNotVerified)
}

// IsUnauthorized reports whether err was classified as an auth failure.
func IsUnauthorized(err error) bool {
	return hasTextCode(err, TextCodeUnauthorized) || hasTextCode(err, TextCodeInvalidCreds)
}

// IsNetworkFailure reports whether err was classified as a transport failure.
func IsNetworkFailure(err error) bool {
	return hasTextCode(err, TextCodeNetworkFailure)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}
