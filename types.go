package session

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CredentialStore owns the persisted local credential. Read never performs
// I/O; implementations cache the durable value and write through on mutation.
type CredentialStore interface {
	Read() (Credential, bool)
	Write(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}

// IdentityProvider wraps the federated identity provider's client session.
// It owns no durable state; the active provider session lives with the
// external service.
type IdentityProvider interface {
	// CreateAccount registers an email/password account with the provider.
	CreateAccount(ctx context.Context, email, password string) (*Account, error)

	// SignIn authenticates the provider's password flow.
	SignIn(ctx context.Context, email, password string) (*Account, error)

	// SignInWithRedirect runs the provider's interactive (popup/redirect)
	// federated login flow.
	SignInWithRedirect(ctx context.Context) (*Account, error)

	// SignOut terminates the active provider session, if any.
	SignOut(ctx context.Context) error

	// SendVerificationEmail issues a verification email for the account.
	SendVerificationEmail(ctx context.Context, account *Account) error

	// IDToken derives a fresh short-lived credential from the active
	// provider session. Fails if no session is active or it expired.
	IDToken(ctx context.Context) (string, error)

	// Active reports whether a provider session is currently established.
	Active() bool

	// OnAccountChanged registers a callback fired when the provider-side
	// account changes (sign-in, sign-out, restored session). The returned
	// function removes the subscription.
	OnAccountChanged(fn func(*Account)) func()
}

// FederatedTokenSource is the subset of IdentityProvider the credential
// resolver needs.
type FederatedTokenSource interface {
	IDToken(ctx context.Context) (string, error)
	Active() bool
}

// Backend is the first-party API surface consumed by the controller. The
// login exchanges carry `{token, user}` where token is the local credential.
type Backend interface {
	Register(ctx context.Context, req RegisterRequest) (*Account, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	FederatedLogin(ctx context.Context, assertion string) (*LoginResult, error)
	Logout(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ResendVerification(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, token string) error
	Me(ctx context.Context) (*Account, error)
}

// RegisterRequest carries the fields the backend needs to create an account.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password,omitempty"`
	DisplayName string `json:"display_name"`
}

// LoginResult is the backend's login/exchange response.
type LoginResult struct {
	Token   string  `json:"token"`
	Account Account `json:"user"`
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
