package client

import (
	"net/http"

	"github.com/goliatone/go-session"
)

// Transport is the request interceptor: an http.RoundTripper that resolves a
// credential per the precedence rules and attaches it as a bearer header on
// every outbound call. When federated derivation fails the call proceeds
// unauthenticated; the failure surfaces through response classification, so
// the interceptor stays side-effect-free on error.
//
// The single local mutation it performs is scrubbing the stored local
// credential when a response comes back 401, so the next call falls through
// to the federated path or goes out anonymous. It never retries and never
// touches session state.
type Transport struct {
	base     http.RoundTripper
	resolver *session.Resolver
	store    session.CredentialStore
	logger   session.Logger
}

// TransportOption customizes the transport.
type TransportOption func(*Transport)

// WithTransportBase sets the underlying RoundTripper.
func WithTransportBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		if base != nil {
			t.base = base
		}
	}
}

// WithTransportLogger overrides the default logger.
func WithTransportLogger(logger session.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport returns the interceptor over the given resolver and store.
func NewTransport(resolver *session.Resolver, store session.CredentialStore, opts ...TransportOption) *Transport {
	t := &Transport{
		base:     http.DefaultTransport,
		resolver: resolver,
		store:    store,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	cred, ok, err := t.resolver.Resolve(ctx)
	if err != nil {
		t.debugf("credential resolution failed, proceeding anonymous: %v", err)
		ok = false
	}

	out := req.Clone(ctx)
	if ok {
		out.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	resp, rerr := t.base.RoundTrip(out)
	if rerr != nil {
		return nil, rerr
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if cerr := t.store.Clear(ctx); cerr != nil {
			t.debugf("credential scrub after 401 failed: %v", cerr)
		}
	}

	return resp, nil
}

func (t *Transport) debugf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Debug(format, args...)
	}
}
