package session

import (
	"context"
)

// CredentialSource tags where a bearer token came from.
type CredentialSource string

const (
	// SourceLocal marks tokens issued by the first-party backend. They are
	// persisted across restarts and always win precedence.
	SourceLocal CredentialSource = "local"

	// SourceFederated marks short-lived tokens derived from the identity
	// provider's active session. Never persisted.
	SourceFederated CredentialSource = "federated"
)

// Credential is an opaque bearer token plus its source tag.
type Credential struct {
	Token  string
	Source CredentialSource
}

func (c Credential) IsZero() bool {
	return c.Token == ""
}

// Resolver picks the credential to attach to an outbound call. Precedence is
// load-bearing: a stored local token is used verbatim even if stale, because
// invalidating it belongs to the 401 classifier, not to resolution. Only when
// no local token exists is a federated token derived, and only when the
// provider session is active.
type Resolver struct {
	store     CredentialStore
	federated FederatedTokenSource
	logger    Logger
}

// NewResolver returns a precedence resolver over the given store and
// federated token source. The federated source may be nil when no provider
// is configured.
func NewResolver(store CredentialStore, federated FederatedTokenSource) *Resolver {
	return &Resolver{
		store:     store,
		federated: federated,
		logger:    defLogger{},
	}
}

func (r *Resolver) WithLogger(logger Logger) *Resolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Resolve returns the credential for the next outbound call, or ok=false for
// an anonymous call. Federated derivation may suspend on the network and may
// fail; the failure is returned so the caller can decide, but the documented
// policy is to proceed unauthenticated.
func (r *Resolver) Resolve(ctx context.Context) (Credential, bool, error) {
	if cred, ok := r.store.Read(); ok && !cred.IsZero() {
		return cred, true, nil
	}

	if r.federated == nil || !r.federated.Active() {
		return Credential{}, false, nil
	}

	token, err := r.federated.IDToken(ctx)
	if err != nil {
		r.logger.Debug("federated credential derivation failed: %v", err)
		return Credential{}, false, err
	}

	return Credential{Token: token, Source: SourceFederated}, true, nil
}
