package client

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
)

// apiError is the backend's error envelope. Both the nested and the flat
// shape are accepted.
type apiError struct {
	Error struct {
		Message  string `json:"message"`
		TextCode string `json:"text_code"`
	} `json:"error"`
	Message  string `json:"message"`
	TextCode string `json:"text_code"`
}

func (e apiError) message() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

func (e apiError) textCode() string {
	if e.Error.TextCode != "" {
		return e.Error.TextCode
	}
	return e.TextCode
}

// byTextCode maps backend text codes straight onto the taxonomy, so a 403
// carrying email_not_verified classifies as the distinguished condition
// rather than a generic Forbidden.
var byTextCode = map[string]*goerrors.Error{
	session.TextCodeDuplicateAccount: session.ErrDuplicateAccount,
	session.TextCodeWeakCredential:   session.ErrWeakCredential,
	session.TextCodeInvalidCreds:     session.ErrInvalidCredentials,
	session.TextCodeEmailNotVerified: session.ErrEmailNotVerified,
	session.TextCodeTooManyRequests:  session.ErrTooManyRequests,
}

// Classify maps an inbound response onto the error taxonomy. A 2xx response
// classifies as success (nil). Classification never mutates anything; the
// 401 credential scrub lives in the Transport.
func Classify(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var payload apiError
	if len(body) > 0 {
		_ = json.Unmarshal(body, &payload)
	}

	if base, ok := byTextCode[payload.textCode()]; ok {
		return newTaxonomyError(base, resp.StatusCode, payload.message())
	}

	var base *goerrors.Error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		base = session.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		base = session.ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		base = session.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		base = session.ErrDuplicateAccount
	case resp.StatusCode == http.StatusTooManyRequests:
		base = session.ErrTooManyRequests
	case resp.StatusCode >= 500:
		base = session.ErrServer
	default:
		base = session.ErrMalformedRequest
	}

	return newTaxonomyError(base, resp.StatusCode, payload.message())
}

// NetworkError classifies a call where no response reached the caller.
func NetworkError(err error) error {
	clone := session.ErrNetwork.Clone()
	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"cause": err.Error(),
	})
}

func newTaxonomyError(base *goerrors.Error, status int, message string) error {
	clone := base.Clone()
	metadata := map[string]any{
		"status": status,
	}
	if message != "" {
		metadata["detail"] = message
	}
	return clone.WithMetadata(metadata)
}
