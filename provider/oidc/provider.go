package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
	"github.com/google/uuid"
)

const (
	defaultAccountsPath     = "/v1/accounts"
	defaultTokenPath        = "/v1/token"
	defaultRevokePath       = "/v1/revoke"
	defaultVerificationPath = "/v1/verification-emails"
	defaultAuthorizePath    = "/v1/authorize"
	defaultJWKSPath         = "/.well-known/jwks.json"

	// tokenLeeway is subtracted from the cached token lifetime so a token
	// about to expire mid-flight is refreshed instead of attached.
	tokenLeeway = 30 * time.Second
)

// RedirectFlow performs the interactive half of the federated login: it
// presents the authorization URL to the user (popup, browser, loopback
// listener) and returns the authorization code and echoed state.
type RedirectFlow interface {
	Authorize(ctx context.Context, authURL, state string) (code, returnedState string, err error)
}

// Config holds the provider configuration.
type Config struct {
	// Issuer is the provider's base URL, also the expected `iss` claim.
	Issuer string

	// ClientID identifies this client, and is the expected audience.
	ClientID string

	// ClientSecret is optional for public clients.
	ClientSecret string

	// RedirectURL receives the authorization code in the redirect flow.
	RedirectURL string

	Scopes []string

	AccountsURL     string
	TokenURL        string
	RevokeURL       string
	VerificationURL string
	AuthorizeURL    string
	JWKSURL         string

	HTTPClient *http.Client
}

// DefaultScopes returns the standard OIDC scopes.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements session.IdentityProvider over an OIDC-style identity
// service. It holds the active provider session in memory only; the one
// durable credential in the system is the backend-issued local token, which
// lives in the credential store.
type Provider struct {
	config     Config
	httpClient *http.Client
	flow       RedirectFlow
	validator  *TokenValidator
	logger     session.Logger

	mu           sync.Mutex
	current      *providerSession
	listeners    map[int]func(*session.Account)
	nextListener int
}

type providerSession struct {
	account      session.Account
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

var _ session.IdentityProvider = (*Provider)(nil)

// Option customizes the provider.
type Option func(*Provider)

// WithRedirectFlow sets the interactive authorization collaborator.
func WithRedirectFlow(flow RedirectFlow) Option {
	return func(p *Provider) {
		p.flow = flow
	}
}

// WithTokenValidator sets the JWKS-backed ID token validator. Without one,
// claims are read unverified, which is acceptable only against a trusted
// channel (tests, local stacks).
func WithTokenValidator(validator *TokenValidator) Option {
	return func(p *Provider) {
		p.validator = validator
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger session.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a provider adapter for the given configuration.
func New(cfg Config, opts ...Option) *Provider {
	base := strings.TrimRight(cfg.Issuer, "/")
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = base + defaultAccountsPath
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = base + defaultTokenPath
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = base + defaultRevokePath
	}
	if cfg.VerificationURL == "" {
		cfg.VerificationURL = base + defaultVerificationPath
	}
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = base + defaultAuthorizePath
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = base + defaultJWKSPath
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	p := &Provider{
		config:     cfg,
		httpClient: client,
		logger:     defLogger{},
		listeners:  map[int]func(*session.Account){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// CreateAccount implements session.IdentityProvider. It registers the
// account without establishing a session.
func (p *Provider) CreateAccount(ctx context.Context, email, password string) (*session.Account, error) {
	payload := map[string]string{
		"client_id": p.config.ClientID,
		"email":     email,
		"password":  password,
	}

	var out struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}

	if err := p.postJSON(ctx, p.config.AccountsURL, payload, &out); err != nil {
		return nil, err
	}

	return &session.Account{
		ID:            out.ID,
		Email:         out.Email,
		EmailVerified: out.EmailVerified,
	}, nil
}

// SignIn implements session.IdentityProvider using the password grant.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*session.Account, error) {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {p.config.ClientID},
		"username":   {email},
		"password":   {password},
		"scope":      {strings.Join(p.config.Scopes, " ")},
	}
	if p.config.ClientSecret != "" {
		form.Set("client_secret", p.config.ClientSecret)
	}

	tokens, err := p.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	return p.establish(ctx, tokens)
}

// SignInWithRedirect implements session.IdentityProvider. The interactive
// part is delegated to the configured RedirectFlow; the returned state must
// echo the nonce or the flow is rejected.
func (p *Provider) SignInWithRedirect(ctx context.Context) (*session.Account, error) {
	if p.flow == nil {
		return nil, goerrors.New("no redirect flow configured", goerrors.CategoryOperation).
			WithTextCode("redirect_flow_missing")
	}

	state := uuid.NewString()
	authURL := p.authorizeURL(state)

	code, returnedState, err := p.flow.Authorize(ctx, authURL, state)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "federated authorization failed")
	}
	if returnedState != state {
		return nil, goerrors.New("authorization state mismatch", goerrors.CategoryAuth).
			WithTextCode("state_mismatch")
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {p.config.ClientID},
		"code":         {code},
		"redirect_uri": {p.config.RedirectURL},
	}
	if p.config.ClientSecret != "" {
		form.Set("client_secret", p.config.ClientSecret)
	}

	tokens, err := p.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	return p.establish(ctx, tokens)
}

// SignOut implements session.IdentityProvider. Revocation is best-effort;
// the in-memory session is dropped regardless.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	current := p.current
	p.current = nil
	p.mu.Unlock()

	if current == nil {
		return nil
	}

	if current.refreshToken != "" {
		form := url.Values{
			"client_id": {p.config.ClientID},
			"token":     {current.refreshToken},
		}
		if err := p.postForm(ctx, p.config.RevokeURL, form, nil); err != nil {
			p.logger.Warn("token revocation failed: %v", err)
		}
	}

	p.notify(nil)
	return nil
}

// SendVerificationEmail implements session.IdentityProvider.
func (p *Provider) SendVerificationEmail(ctx context.Context, account *session.Account) error {
	if account == nil || account.Email == "" {
		return goerrors.New("account email is required", goerrors.CategoryBadInput)
	}

	payload := map[string]string{
		"client_id": p.config.ClientID,
		"email":     account.Email,
	}
	return p.postJSON(ctx, p.config.VerificationURL, payload, nil)
}

// IDToken implements session.IdentityProvider. The cached ID token is reused
// while fresh; otherwise it is re-derived with the refresh token. A failed
// refresh drops the provider session.
func (p *Provider) IDToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	if current == nil {
		return "", session.ErrFederatedSessionExpired
	}

	if time.Now().Add(tokenLeeway).Before(current.expiresAt) {
		return current.idToken, nil
	}

	if current.refreshToken == "" {
		p.expire()
		return "", session.ErrFederatedSessionExpired
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {p.config.ClientID},
		"refresh_token": {current.refreshToken},
	}
	if p.config.ClientSecret != "" {
		form.Set("client_secret", p.config.ClientSecret)
	}

	tokens, err := p.requestToken(ctx, form)
	if err != nil {
		p.expire()
		clone := session.ErrFederatedSessionExpired.Clone()
		clone.Source = err
		return "", clone
	}

	account, err := p.accountFromIDToken(tokens.IDToken)
	if err != nil {
		p.expire()
		return "", err
	}

	refresh := tokens.RefreshToken
	if refresh == "" {
		refresh = current.refreshToken
	}

	p.mu.Lock()
	p.current = &providerSession{
		account:      *account,
		idToken:      tokens.IDToken,
		refreshToken: refresh,
		expiresAt:    time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	p.mu.Unlock()

	return tokens.IDToken, nil
}

// Active implements session.IdentityProvider.
func (p *Provider) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Account returns the provider-side account for the active session, if any.
func (p *Provider) Account() (*session.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, false
	}
	acct := p.current.account
	return &acct, true
}

// OnAccountChanged implements session.IdentityProvider. The callback fires
// immediately with the current account so subscribers reconcile restored
// sessions, then on every sign-in and sign-out.
func (p *Provider) OnAccountChanged(fn func(*session.Account)) func() {
	p.mu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	var initial *session.Account
	if p.current != nil {
		acct := p.current.account
		initial = &acct
	}
	p.mu.Unlock()

	fn(initial)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (p *Provider) establish(ctx context.Context, tokens *tokenResponse) (*session.Account, error) {
	account, err := p.accountFromIDToken(tokens.IDToken)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current = &providerSession{
		account:      *account,
		idToken:      tokens.IDToken,
		refreshToken: tokens.RefreshToken,
		expiresAt:    time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	p.mu.Unlock()

	p.notify(account)
	return account, nil
}

func (p *Provider) expire() {
	p.mu.Lock()
	expired := p.current != nil
	p.current = nil
	p.mu.Unlock()

	if expired {
		p.notify(nil)
	}
}

func (p *Provider) notify(account *session.Account) {
	p.mu.Lock()
	listeners := make([]func(*session.Account), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		var copyAcct *session.Account
		if account != nil {
			dup := *account
			copyAcct = &dup
		}
		fn(copyAcct)
	}
}

func (p *Provider) accountFromIDToken(idToken string) (*session.Account, error) {
	if idToken == "" {
		return nil, goerrors.New("provider returned no id_token", goerrors.CategoryAuth).
			WithTextCode("missing_id_token")
	}

	if p.validator != nil {
		return p.validator.Validate(idToken)
	}
	return claimsUnverified(idToken)
}

func (p *Provider) authorizeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}
	return p.config.AuthorizeURL + "?" + params.Encode()
}

func (p *Provider) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	var out tokenResponse
	if err := p.postForm(ctx, p.config.TokenURL, form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *Provider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build provider request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return p.send(req, out)
}

func (p *Provider) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode provider payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build provider request")
	}
	req.Header.Set("Content-Type", "application/json")

	return p.send(req, out)
}

func (p *Provider) send(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		clone := session.ErrNetwork.Clone()
		clone.Source = err
		return clone.WithMetadata(map[string]any{"cause": err.Error()})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		clone := session.ErrNetwork.Clone()
		clone.Source = err
		return clone
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return normalizeProviderError(resp.StatusCode, body)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode provider response")
		}
	}

	return nil
}

// normalizeProviderError maps the provider's OAuth-style error payloads onto
// the shared taxonomy so nothing upstream ever branches on provider shapes.
func normalizeProviderError(status int, body []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	detail := payload.ErrorDescription
	if detail == "" {
		detail = payload.Message
	}

	var base *goerrors.Error
	switch {
	case payload.Error == "invalid_grant" || status == http.StatusUnauthorized:
		base = session.ErrInvalidCredentials
	case payload.Error == "weak_password":
		base = session.ErrWeakCredential
	case payload.Error == "email_exists" || status == http.StatusConflict:
		base = session.ErrDuplicateAccount
	case status == http.StatusTooManyRequests:
		base = session.ErrTooManyRequests
	case status == http.StatusNotFound:
		base = session.ErrNotFound
	case status >= 500:
		base = session.ErrServer
	default:
		base = session.ErrMalformedRequest
	}

	clone := base.Clone()
	metadata := map[string]any{
		"status":   status,
		"provider": "oidc",
	}
	if payload.Error != "" {
		metadata["error"] = payload.Error
	}
	if detail != "" {
		metadata["detail"] = detail
	}
	return clone.WithMetadata(metadata)
}

type defLogger struct{}

func (defLogger) Debug(format string, args ...any) { fmt.Printf("[DBG] OIDC "+format+"\n", args...) }
func (defLogger) Info(format string, args ...any)  { fmt.Printf("[INF] OIDC "+format+"\n", args...) }
func (defLogger) Warn(format string, args ...any)  { fmt.Printf("[WRN] OIDC "+format+"\n", args...) }
func (defLogger) Error(format string, args ...any) { fmt.Printf("[ERR] OIDC "+format+"\n", args...) }
