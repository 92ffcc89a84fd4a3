package session

import (
	"context"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// Controller is the session state machine. It arbitrates between the two
// identity sources and is the only writer of session state; everything else
// observes through Status and Subscribe.
type Controller struct {
	provider IdentityProvider
	backend  Backend
	store    CredentialStore
	sm       *stateMachine
	logger   Logger
	now      func() time.Time
	cooldown time.Duration
	debug    bool

	mu           sync.Mutex
	status       Status
	epoch        uint64
	verification *VerificationRequest
	watchers     map[int]func(Status)
	nextWatcher  int
	started      bool
	unsubscribe  func()
}

// ControllerOption customizes controller construction.
type ControllerOption func(*Controller)

// WithLogger overrides the default logger.
func WithLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithResendCooldown overrides the verification resend cooldown window.
func WithResendCooldown(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.cooldown = d
		}
	}
}

// WithDebug enables payload dumps in debug logging.
func WithDebug(debug bool) ControllerOption {
	return func(c *Controller) {
		c.debug = debug
	}
}

// WithStateWatcher registers a watcher at construction time. Watchers run
// best-effort after every applied transition.
func WithStateWatcher(fn func(Status)) ControllerOption {
	return func(c *Controller) {
		if fn != nil {
			c.watchers[c.nextWatcher] = fn
			c.nextWatcher++
		}
	}
}

// NewController returns a session controller over the federated provider,
// the first-party backend, and the credential store.
func NewController(provider IdentityProvider, backend Backend, store CredentialStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		provider: provider,
		backend:  backend,
		store:    store,
		sm:       newStateMachine(),
		logger:   defLogger{},
		now:      time.Now,
		cooldown: DefaultResendCooldown,
		status:   Anonymous(),
		watchers: map[int]func(Status){},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// Start subscribes to the provider change stream (exactly once) and
// reconciles persisted state: a stored local credential is validated against
// the backend so a restarted process resumes its session. Safe to call
// twice; the second call is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	// The provider delivers the current account synchronously during
	// subscription and the handler takes the controller lock, so the lock
	// cannot be held across this call.
	unsub := c.provider.OnAccountChanged(c.handleProviderChange)

	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()

	cred, ok := c.store.Read()
	if !ok || cred.IsZero() {
		return nil
	}

	account, err := c.backend.Me(ctx)
	if err != nil {
		// A 401 already scrubbed the stale token in the classifier; anything
		// else leaves the stored credential for the next call to retry.
		c.logger.Warn("session restore failed: %v", err)
		return nil
	}

	c.apply(Status{State: StateAuthenticated, Account: account})
	return nil
}

// Close tears down the provider subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.started = false
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Status returns the current session snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Account = st.Account.clone()
	return st
}

// Subscribe registers a watcher notified after every applied transition. The
// returned function removes it.
func (c *Controller) Subscribe(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// LastVerification returns the most recent verification issuance, if any,
// for driving a resend-cooldown display.
func (c *Controller) LastVerification() (VerificationRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verification == nil {
		return VerificationRequest{}, false
	}
	return *c.verification, true
}

// ResendCooldown returns the configured cooldown window.
func (c *Controller) ResendCooldown() time.Duration {
	return c.cooldown
}

// Register creates the provider and backend accounts, triggers the
// verification email, and lands in pending verification. Registration never
// yields an active session: the provider session opened by account creation
// is signed back out before returning.
func (c *Controller) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if err := req.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid register payload")
	}

	if c.debug {
		c.logger.Debug("register payload: %s", print.MaybePrettyJSON(req.redacted()))
	}

	epoch, err := c.begin()
	if err != nil {
		return nil, err
	}

	account, err := c.provider.CreateAccount(ctx, req.Email, req.Password)
	if err != nil {
		return nil, c.fail(epoch, err)
	}

	if err := c.provider.SendVerificationEmail(ctx, account); err != nil {
		// The account exists; a failed issuance is recoverable via resend.
		c.logger.Warn("verification email issuance failed: %v", err)
	}

	registered, err := c.backend.Register(ctx, RegisterRequest{
		Email:       req.Email,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		c.signOutProvider(ctx)
		return nil, c.fail(epoch, err)
	}

	c.signOutProvider(ctx)

	account = mergeAccounts(registered, account)
	account.EmailVerified = false

	issued := NewVerificationRequest(account.Email, c.now())
	if !c.commit(epoch, Status{State: StatePendingVerification, Account: account}, func() {
		c.verification = &issued
	}) {
		return nil, ErrSuperseded
	}

	return account.clone(), nil
}

// Login authenticates the password flow. An unverified account is signed
// back out immediately and surfaces ErrEmailNotVerified with the session in
// pending verification, so callers can offer a resend action instead of a
// plain retry. On success the backend-issued local credential is persisted
// and the session is authenticated.
func (c *Controller) Login(ctx context.Context, email, password string) (*Account, error) {
	payload := loginPayload{Email: email, Password: password}
	if err := payload.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload")
	}

	epoch, err := c.begin()
	if err != nil {
		return nil, err
	}

	account, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, c.fail(epoch, err)
	}

	if !account.EmailVerified {
		// Invalidate the just-created provider session before surfacing the
		// condition; unverified accounts never hold an active session.
		c.signOutProvider(ctx)

		if !c.commit(epoch, Status{State: StatePendingVerification, Account: account}, nil) {
			return nil, ErrSuperseded
		}
		return nil, ErrEmailNotVerified.WithMetadata(map[string]any{
			"email": account.Email,
		})
	}

	result, err := c.backend.Login(ctx, email, password)
	if err != nil {
		return nil, c.fail(epoch, err)
	}

	cred := Credential{Token: result.Token, Source: SourceLocal}
	if err := c.commitAuthenticated(ctx, epoch, &cred, &result.Account); err != nil {
		return nil, err
	}

	return result.Account.clone(), nil
}

// LoginWithProvider runs the federated login flow. The provider assertion is
// exchanged for a first-party local credential when the backend supports it;
// otherwise the federated credential is used directly, derived lazily per
// call. No verification gate applies: the provider is trusted to have
// verified the email.
func (c *Controller) LoginWithProvider(ctx context.Context) (*Account, error) {
	epoch, err := c.begin()
	if err != nil {
		return nil, err
	}

	account, err := c.provider.SignInWithRedirect(ctx)
	if err != nil {
		return nil, c.fail(epoch, err)
	}

	assertion, err := c.provider.IDToken(ctx)
	if err != nil {
		return nil, c.fail(epoch, err)
	}

	result, err := c.backend.FederatedLogin(ctx, assertion)
	switch {
	case err == nil:
		cred := Credential{Token: result.Token, Source: SourceLocal}
		if err := c.commitAuthenticated(ctx, epoch, &cred, &result.Account); err != nil {
			return nil, err
		}
		return result.Account.clone(), nil

	case hasTextCode(err, TextCodeNotFound):
		// No exchange endpoint; fall back to the federated credential, which
		// the resolver derives per call.
		c.logger.Debug("backend has no federated exchange, using provider credential")
		if err := c.commitAuthenticated(ctx, epoch, nil, account); err != nil {
			return nil, err
		}
		return account.clone(), nil

	default:
		return nil, c.fail(epoch, err)
	}
}

// Logout revokes the backend session, clears the local credential, signs out
// of the provider if a session is active, and leaves the session anonymous.
// Best-effort: backend or provider failures are logged, never surfaced, and
// never prevent the local state from resetting. Idempotent.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.verification = nil
	watchers, st := c.applyLocked(Anonymous())
	c.mu.Unlock()
	c.notify(watchers, st)

	// Revoke the server-side session first, while the stored credential
	// still resolves onto the request.
	if err := c.backend.Logout(ctx); err != nil {
		c.logger.Warn("backend logout failed: %v", err)
	}

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("credential clear failed: %v", err)
	}

	if c.provider.Active() {
		c.signOutProvider(ctx)
	}

	return nil
}

// ResendVerification re-issues the verification email. Valid only from
// pending verification; the backend's rate limit surfaces as
// ErrTooManyRequests and changes no state.
func (c *Controller) ResendVerification(ctx context.Context, email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email address")
	}

	c.mu.Lock()
	state := c.status.State
	c.mu.Unlock()

	if state != StatePendingVerification {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"state":     string(state),
			"operation": "resend_verification",
		})
	}

	if err := c.backend.ResendVerification(ctx, email); err != nil {
		return err
	}

	issued := NewVerificationRequest(email, c.now())
	c.mu.Lock()
	if c.status.State == StatePendingVerification {
		c.verification = &issued
	}
	c.mu.Unlock()

	return nil
}

// ResetPassword requests a password reset email. Stateless; does not touch
// the session.
func (c *Controller) ResetPassword(ctx context.Context, email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid email address")
	}
	return c.backend.ForgotPassword(ctx, email)
}

// CompletePasswordReset finalizes a reset with the emailed token. Stateless.
func (c *Controller) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	payload := resetPayload{Token: token, Password: newPassword}
	if err := payload.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload")
	}
	return c.backend.ResetPassword(ctx, token, newPassword)
}

// VerifyEmail completes email verification with the emailed token.
// Stateless; the verified flag is observed on the next login attempt.
func (c *Controller) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrMalformedRequest.WithMetadata(map[string]any{
			"reason": "empty verification token",
		})
	}
	return c.backend.VerifyEmail(ctx, token)
}

// begin enters the transient authenticating state and returns the operation
// epoch. Completions compare epochs so a superseding user action wins over
// completion order.
func (c *Controller) begin() (uint64, error) {
	c.mu.Lock()
	if !c.sm.canTransition(c.status.State, StateAuthenticating) {
		state := c.status.State
		c.mu.Unlock()
		return 0, ErrInvalidTransition.WithMetadata(map[string]any{
			"from": string(state),
			"to":   string(StateAuthenticating),
		})
	}
	c.epoch++
	epoch := c.epoch
	watchers, st := c.applyLocked(Status{State: StateAuthenticating})
	c.mu.Unlock()
	c.notify(watchers, st)
	return epoch, nil
}

// commit applies a completion if its epoch is still current. The extra
// function runs under the lock alongside the transition.
func (c *Controller) commit(epoch uint64, st Status, extra func()) bool {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded completion: %s", st)
		return false
	}
	if extra != nil {
		extra()
	}
	watchers, applied := c.applyLocked(st)
	c.mu.Unlock()
	c.notify(watchers, applied)
	return true
}

// commitAuthenticated persists the credential (when one was issued) and
// applies the authenticated state in one step, so a concurrent logout cannot
// interleave between the write and the transition.
func (c *Controller) commitAuthenticated(ctx context.Context, epoch uint64, cred *Credential, account *Account) error {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		c.logger.Debug("discarding superseded login completion for %s", account.Email)
		return ErrSuperseded
	}

	if cred != nil {
		if err := c.store.Write(ctx, *cred); err != nil {
			watchers, st := c.applyLocked(Status{State: StateFailed, Reason: err})
			c.mu.Unlock()
			c.notify(watchers, st)
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist credential")
		}
	}

	c.verification = nil
	watchers, st := c.applyLocked(Status{State: StateAuthenticated, Account: account})
	c.mu.Unlock()
	c.notify(watchers, st)
	return nil
}

// fail applies the failed state (unless superseded) and passes the reason
// through unchanged.
func (c *Controller) fail(epoch uint64, err error) error {
	c.commit(epoch, Status{State: StateFailed, Reason: err}, nil)
	return err
}

func (c *Controller) apply(st Status) {
	c.mu.Lock()
	watchers, applied := c.applyLocked(st)
	c.mu.Unlock()
	c.notify(watchers, applied)
}

func (c *Controller) applyLocked(st Status) ([]func(Status), Status) {
	if !c.sm.canTransition(c.status.State, st.State) {
		c.logger.Error("invalid session transition %s -> %s", c.status.State, st.State)
		return nil, st
	}

	c.status = st

	watchers := make([]func(Status), 0, len(c.watchers))
	for _, fn := range c.watchers {
		watchers = append(watchers, fn)
	}

	snapshot := st
	snapshot.Account = st.Account.clone()
	return watchers, snapshot
}

func (c *Controller) notify(watchers []func(Status), st Status) {
	for _, fn := range watchers {
		fn(st)
	}
}

func (c *Controller) signOutProvider(ctx context.Context) {
	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.Warn("provider sign-out failed: %v", err)
	}
}

// handleProviderChange reconciles provider-side changes (e.g. a restored
// session after a reload) with the session state. Provider events are not
// user actions, so they never supersede an in-flight operation.
func (c *Controller) handleProviderChange(account *Account) {
	c.mu.Lock()

	var next *Status
	if account == nil {
		// Provider signed out elsewhere. Only drop the session when no local
		// credential backs it.
		if _, ok := c.store.Read(); !ok && c.status.State == StateAuthenticated {
			st := Anonymous()
			next = &st
		}
	} else if c.status.State == StateAnonymous && account.EmailVerified {
		st := Status{State: StateAuthenticated, Account: account.clone()}
		next = &st
	}

	if next == nil {
		c.mu.Unlock()
		return
	}

	watchers, st := c.applyLocked(*next)
	c.mu.Unlock()
	c.notify(watchers, st)
}

func mergeAccounts(primary, fallback *Account) *Account {
	if primary == nil {
		return fallback.clone()
	}
	merged := primary.clone()
	if merged.ID == "" && fallback != nil {
		merged.ID = fallback.ID
	}
	if merged.Email == "" && fallback != nil {
		merged.Email = fallback.Email
	}
	if merged.DisplayName == "" && fallback != nil {
		merged.DisplayName = fallback.DisplayName
	}
	return merged
}

// Validate checks the register payload.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 200)),
	)
}

func (r RegisterRequest) redacted() RegisterRequest {
	r.Password = ""
	return r
}

type loginPayload struct {
	Email    string
	Password string
}

func (p loginPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	)
}

type resetPayload struct {
	Token    string
	Password string
}

func (p resetPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 100)),
	)
}
