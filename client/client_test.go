package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
	"github.com/goliatone/go-session/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	cred *session.Credential
}

func (s *memStore) Read() (session.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return session.Credential{}, false
	}
	return *s.cred, true
}

func (s *memStore) Write(_ context.Context, cred session.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &cred
	return nil
}

func (s *memStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	return nil
}

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

func newTestClient(t *testing.T, handler http.Handler, store session.CredentialStore, fed session.FederatedTokenSource) (*client.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if store == nil {
		store = &memStore{}
	}
	resolver := session.NewResolver(store, fed)

	c := client.New(client.Config{BaseURL: srv.URL}, resolver, store)
	return c, srv
}

func TestRegisterDecodesUserEnvelope(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/register", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload session.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a@x.com", payload.Email)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"user": map[string]any{
				"id":             "u1",
				"email":          "a@x.com",
				"display_name":   "Ana",
				"email_verified": false,
			},
		})
	})

	c, _ := newTestClient(t, handler, nil, nil)

	account, err := c.Register(context.Background(), session.RegisterRequest{
		Email:       "a@x.com",
		DisplayName: "Ana",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", account.ID)
	assert.Equal(t, "Ana", account.DisplayName)
	assert.False(t, account.EmailVerified)
}

func TestLoginReturnsTokenAndAccount(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"token": "issued-token",
			"user": map[string]any{
				"id":             "u1",
				"email":          "a@x.com",
				"email_verified": true,
			},
		})
	})

	c, _ := newTestClient(t, handler, nil, nil)

	result, err := c.Login(context.Background(), "a@x.com", "Secret1!pass")
	require.NoError(t, err)
	assert.Equal(t, "issued-token", result.Token)
	assert.Equal(t, "u1", result.Account.ID)
}

func TestLoginRejectionSurfacesInvalidCredentials(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad credentials"},
		})
	})

	c, _ := newTestClient(t, handler, nil, nil)

	_, err := c.Login(context.Background(), "a@x.com", "wrongpassword")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, session.TextCodeInvalidCreds, richErr.TextCode)
}

func TestFederatedLoginWithoutExchangeEndpointIsNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	c, _ := newTestClient(t, handler, nil, nil)

	_, err := c.FederatedLogin(context.Background(), "assertion-jwt")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, session.TextCodeNotFound, richErr.TextCode)
}

func TestResendVerificationRateLimited(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message":   "cooldown active",
				"text_code": "too_many_requests",
			},
		})
	})

	c, _ := newTestClient(t, handler, nil, nil)

	err := c.ResendVerification(context.Background(), "a@x.com")
	require.Error(t, err)

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.Equal(t, session.TextCodeTooManyRequests, richErr.TextCode)
	assert.Equal(t, "cooldown active", richErr.Metadata["detail"])
}

func TestVerifyEmailEscapesToken(t *testing.T) {
	var gotPath string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	})

	c, _ := newTestClient(t, handler, nil, nil)

	require.NoError(t, c.VerifyEmail(context.Background(), "tok/with slash"))
	assert.Equal(t, "/auth/verify-email/tok%2Fwith%20slash", gotPath)
}

func TestNetworkFailureClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := &memStore{}
	resolver := session.NewResolver(store, nil)
	c := client.New(client.Config{BaseURL: srv.URL}, resolver, store)

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsNetworkFailure(err))

	var richErr *goerrors.Error
	require.ErrorAs(t, err, &richErr)
	assert.NotEmpty(t, richErr.Metadata["cause"])
}

func TestClassifyStatusTable(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		textCode string
	}{
		{"unauthorized", http.StatusUnauthorized, "", session.TextCodeUnauthorized},
		{"forbidden", http.StatusForbidden, "", session.TextCodeForbidden},
		{"not found", http.StatusNotFound, "", session.TextCodeNotFound},
		{"conflict", http.StatusConflict, "", session.TextCodeDuplicateAccount},
		{"rate limited", http.StatusTooManyRequests, "", session.TextCodeTooManyRequests},
		{"server error", http.StatusInternalServerError, "", session.TextCodeServerError},
		{"bad gateway", http.StatusBadGateway, "", session.TextCodeServerError},
		{"bad request", http.StatusBadRequest, "", session.TextCodeMalformedRequest},
		{
			name:     "text code beats status",
			status:   http.StatusForbidden,
			body:     `{"error":{"message":"verify your email","text_code":"email_not_verified"}}`,
			textCode: session.TextCodeEmailNotVerified,
		},
		{
			name:     "flat envelope",
			status:   http.StatusBadRequest,
			body:     `{"message":"pick a stronger password","text_code":"weak_credential"}`,
			textCode: session.TextCodeWeakCredential,
		},
		{
			name:     "garbage body falls back to status",
			status:   http.StatusConflict,
			body:     `<html>nope</html>`,
			textCode: session.TextCodeDuplicateAccount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status}
			err := client.Classify(resp, []byte(tt.body))
			require.Error(t, err)

			var richErr *goerrors.Error
			require.ErrorAs(t, err, &richErr)
			assert.Equal(t, tt.textCode, richErr.TextCode)
			assert.Equal(t, tt.status, richErr.Metadata["status"])
		})
	}
}

func TestClassifySuccessIsNil(t *testing.T) {
	assert.NoError(t, client.Classify(&http.Response{StatusCode: http.StatusOK}, nil))
	assert.NoError(t, client.Classify(&http.Response{StatusCode: http.StatusNoContent}, nil))
}
