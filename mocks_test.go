package session_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-session"
	"github.com/stretchr/testify/mock"
)

// MockProvider implements session.IdentityProvider
type MockProvider struct {
	mock.Mock

	mu       sync.Mutex
	callback func(*session.Account)
	initial  *session.Account
}

func (m *MockProvider) CreateAccount(ctx context.Context, email, password string) (*session.Account, error) {
	args := m.Called(ctx, email, password)
	acct, _ := args.Get(0).(*session.Account)
	return acct, args.Error(1)
}

func (m *MockProvider) SignIn(ctx context.Context, email, password string) (*session.Account, error) {
	args := m.Called(ctx, email, password)
	acct, _ := args.Get(0).(*session.Account)
	return acct, args.Error(1)
}

func (m *MockProvider) SignInWithRedirect(ctx context.Context) (*session.Account, error) {
	args := m.Called(ctx)
	acct, _ := args.Get(0).(*session.Account)
	return acct, args.Error(1)
}

func (m *MockProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockProvider) SendVerificationEmail(ctx context.Context, account *session.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockProvider) IDToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Active() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockProvider) OnAccountChanged(fn func(*session.Account)) func() {
	m.mu.Lock()
	m.callback = fn
	initial := m.initial
	m.mu.Unlock()

	// the provider contract delivers the current account synchronously
	// during subscription
	fn(initial)

	return func() {
		m.mu.Lock()
		m.callback = nil
		m.mu.Unlock()
	}
}

// Emit drives the provider change stream from tests.
func (m *MockProvider) Emit(account *session.Account) {
	m.mu.Lock()
	fn := m.callback
	m.mu.Unlock()
	if fn != nil {
		fn(account)
	}
}

// Subscribed reports whether a change callback is registered.
func (m *MockProvider) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callback != nil
}

// MockBackend implements session.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Register(ctx context.Context, req session.RegisterRequest) (*session.Account, error) {
	args := m.Called(ctx, req)
	acct, _ := args.Get(0).(*session.Account)
	return acct, args.Error(1)
}

func (m *MockBackend) Login(ctx context.Context, email, password string) (*session.LoginResult, error) {
	args := m.Called(ctx, email, password)
	res, _ := args.Get(0).(*session.LoginResult)
	return res, args.Error(1)
}

func (m *MockBackend) FederatedLogin(ctx context.Context, assertion string) (*session.LoginResult, error) {
	args := m.Called(ctx, assertion)
	res, _ := args.Get(0).(*session.LoginResult)
	return res, args.Error(1)
}

func (m *MockBackend) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) ForgotPassword(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockBackend) ResetPassword(ctx context.Context, token, newPassword string) error {
	args := m.Called(ctx, token, newPassword)
	return args.Error(0)
}

func (m *MockBackend) ResendVerification(ctx context.Context, email string) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockBackend) VerifyEmail(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockBackend) Me(ctx context.Context) (*session.Account, error) {
	args := m.Called(ctx)
	acct, _ := args.Get(0).(*session.Account)
	return acct, args.Error(1)
}

// memoryStore is a minimal credential store for controller tests.
type memoryStore struct {
	mu   sync.Mutex
	cred *session.Credential
}

func (s *memoryStore) Read() (session.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return session.Credential{}, false
	}
	return *s.cred, true
}

func (s *memoryStore) Write(_ context.Context, cred session.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &cred
	return nil
}

func (s *memoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

// fedSource is a fake federated token source for resolver tests.
type fedSource struct {
	active bool
	token  string
	err    error
	calls  int
}

func (f *fedSource) IDToken(_ context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fedSource) Active() bool {
	return f.active
}
