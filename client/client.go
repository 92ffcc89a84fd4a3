package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-session"
)

const (
	registerPath           = "/auth/register"
	loginPath              = "/auth/login"
	federatedLoginPath     = "/auth/google-login"
	logoutPath             = "/auth/logout"
	forgotPasswordPath     = "/auth/forgot-password"
	resetPasswordPath      = "/auth/reset-password"
	resendVerificationPath = "/auth/resend-verification"
	verifyEmailPath        = "/auth/verify-email"
	mePath                 = "/auth/me"
)

// Config holds the backend client configuration.
type Config struct {
	BaseURL string

	// HTTPClient, when set, is used as-is; its transport should already be
	// wrapped with the credential interceptor.
	HTTPClient *http.Client
}

// Client talks to the first-party backend. All calls go through the
// credential Transport, and every result is classified into the shared error
// taxonomy before it reaches the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     session.Logger
	debug      bool
}

var _ session.Backend = (*Client)(nil)

// Option customizes the client.
type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(logger session.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug enables payload dumps in debug logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// New returns a backend client whose outbound calls carry credentials per
// the resolver's precedence rules.
func New(cfg Config, resolver *session.Resolver, store session.CredentialStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: NewTransport(resolver, store, WithTransportLogger(c.logger)),
		}
	}
	c.httpClient = httpClient

	return c
}

// Register implements session.Backend.
func (c *Client) Register(ctx context.Context, req session.RegisterRequest) (*session.Account, error) {
	var out struct {
		User session.Account `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, registerPath, req, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Login implements session.Backend. A 401 from this endpoint means the
// email/password pair was wrong, so it surfaces as InvalidCredentials rather
// than the generic Unauthorized classification.
func (c *Client) Login(ctx context.Context, email, password string) (*session.LoginResult, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	var out session.LoginResult
	if err := c.do(ctx, http.MethodPost, loginPath, payload, &out); err != nil {
		if session.IsUnauthorized(err) {
			return nil, invalidCredentials(err)
		}
		return nil, err
	}
	return &out, nil
}

// FederatedLogin exchanges a provider identity assertion for a local
// credential. Backends without the exchange endpoint answer 404, which the
// controller treats as "use the federated credential directly".
func (c *Client) FederatedLogin(ctx context.Context, assertion string) (*session.LoginResult, error) {
	payload := map[string]string{
		"assertion": assertion,
	}

	var out session.LoginResult
	if err := c.do(ctx, http.MethodPost, federatedLoginPath, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout implements session.Backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, logoutPath, nil, nil)
}

// ForgotPassword implements session.Backend.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, forgotPasswordPath, map[string]string{"email": email}, nil)
}

// ResetPassword implements session.Backend.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	payload := map[string]string{
		"token":    token,
		"password": newPassword,
	}
	return c.do(ctx, http.MethodPost, resetPasswordPath, payload, nil)
}

// ResendVerification implements session.Backend. The backend rate-limits
// this endpoint; its rejection classifies as TooManyRequests.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, resendVerificationPath, map[string]string{"email": email}, nil)
}

// VerifyEmail implements session.Backend.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodGet, verifyEmailPath+"/"+url.PathEscape(token), nil, nil)
}

// Me implements session.Backend.
func (c *Client) Me(ctx context.Context) (*session.Account, error) {
	var out struct {
		User session.Account `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, mePath, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request payload")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NetworkError(err)
	}

	if c.debug {
		c.logger.Debug("%s %s -> %d %s", method, path, resp.StatusCode, print.MaybePrettyJSON(json.RawMessage(data)))
	}

	if err := Classify(resp, data); err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode response payload")
		}
	}

	return nil
}

func invalidCredentials(cause error) error {
	clone := session.ErrInvalidCredentials.Clone()
	clone.Source = cause
	return clone
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) { logf("[ERR] CLIENT "+format, args...) }
func (d defLogger) Warn(format string, args ...any)  { logf("[WRN] CLIENT "+format, args...) }
func (d defLogger) Info(format string, args ...any)  { logf("[INF] CLIENT "+format, args...) }
func (d defLogger) Debug(format string, args ...any) { logf("[DBG] CLIENT "+format, args...) }

func logf(format string, args ...any) {
	if len(format) > 0 && format[len(format)-1] != '\n' {
		format += "\n"
	}
	fmt.Printf(format, args...)
}
