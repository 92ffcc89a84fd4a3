package store

import (
	"context"
	"sync"

	"github.com/goliatone/go-session"
)

// Memory is an in-memory credential store for tests and processes that do
// not want the credential to outlive them.
type Memory struct {
	mu   sync.Mutex
	cred *session.Credential
}

var _ session.CredentialStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Read implements session.CredentialStore.
func (m *Memory) Read() (session.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return session.Credential{}, false
	}
	return *m.cred, true
}

// Write implements session.CredentialStore.
func (m *Memory) Write(_ context.Context, cred session.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = &cred
	return nil
}

// Clear implements session.CredentialStore.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}
