package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-session"
	"github.com/goliatone/go-session/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, transport *client.Transport, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestTransportAttachesLocalBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	require.NoError(t, store.Write(context.Background(), session.Credential{
		Token:  "local-token",
		Source: session.SourceLocal,
	}))
	fed := &fedSource{active: true, token: "federated-token"}

	transport := client.NewTransport(session.NewResolver(store, fed), store)
	roundTrip(t, transport, srv.URL)

	assert.Equal(t, "Bearer local-token", gotAuth)
	assert.Zero(t, fed.calls, "local credential wins without touching the provider")
}

func TestTransportDerivesFederatedBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	fed := &fedSource{active: true, token: "federated-token"}

	transport := client.NewTransport(session.NewResolver(store, fed), store)
	roundTrip(t, transport, srv.URL)

	assert.Equal(t, "Bearer federated-token", gotAuth)
	_, ok := store.Read()
	assert.False(t, ok, "derived credentials are never persisted")
}

func TestTransportAnonymousWhenNothingResolves(t *testing.T) {
	var gotAuth string
	var hasHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, hasHeader = r.Header["Authorization"]
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	transport := client.NewTransport(session.NewResolver(store, &fedSource{active: false}), store)
	roundTrip(t, transport, srv.URL)

	assert.Empty(t, gotAuth)
	assert.False(t, hasHeader)
}

func TestTransportProceedsAnonymousOnDerivationFailure(t *testing.T) {
	var hasHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasHeader = r.Header["Authorization"]
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	fed := &fedSource{active: true, err: session.ErrFederatedSessionExpired}

	transport := client.NewTransport(session.NewResolver(store, fed), store)
	resp := roundTrip(t, transport, srv.URL)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, hasHeader, "derivation failure degrades to an anonymous call")
}

func TestTransportScrubsCredentialOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	require.NoError(t, store.Write(context.Background(), session.Credential{
		Token:  "stale-token",
		Source: session.SourceLocal,
	}))

	transport := client.NewTransport(session.NewResolver(store, nil), store)
	resp := roundTrip(t, transport, srv.URL)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, ok := store.Read()
	assert.False(t, ok, "a 401 invalidates the stored credential")
}

func TestTransportDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	transport := client.NewTransport(session.NewResolver(store, nil), store)
	roundTrip(t, transport, srv.URL)

	assert.Equal(t, 1, calls)
}

func TestTransportDoesNotMutateOriginalRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	store := &memStore{}
	require.NoError(t, store.Write(context.Background(), session.Credential{
		Token:  "local-token",
		Source: session.SourceLocal,
	}))

	transport := client.NewTransport(session.NewResolver(store, nil), store)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get("Authorization"))
}
