package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-session"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// localCredentialKey is the single well-known key the durable credential
// lives under.
const localCredentialKey = "local"

type credentialRecord struct {
	bun.BaseModel `bun:"table:credentials,alias:cred"`

	Key       string    `bun:"key,pk"`
	Token     string    `bun:"token,notnull"`
	Source    string    `bun:"source,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// Bun persists the local credential in sqlite through bun. The durable value
// is loaded once at construction and cached, so Read never touches the
// database; Write and Clear write through.
type Bun struct {
	db *bun.DB

	mu     sync.Mutex
	cached *session.Credential
}

var _ session.CredentialStore = (*Bun)(nil)

// Open opens (creating if needed) a sqlite-backed store at the given DSN.
func Open(ctx context.Context, dsn string) (*Bun, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to open credential database")
	}
	sqldb.SetMaxOpenConns(1)

	return NewBun(ctx, bun.NewDB(sqldb, sqlitedialect.New()))
}

// NewBun wraps an existing bun handle, creating the credentials table when
// missing and loading the persisted value.
func NewBun(ctx context.Context, db *bun.DB) (*Bun, error) {
	if _, err := db.NewCreateTable().
		Model((*credentialRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create credentials table")
	}

	s := &Bun{db: db}

	record := &credentialRecord{}
	err := db.NewSelect().
		Model(record).
		Where("cred.key = ?", localCredentialKey).
		Scan(ctx)
	switch {
	case err == nil:
		s.cached = &session.Credential{
			Token:  record.Token,
			Source: session.CredentialSource(record.Source),
		}
	case err == sql.ErrNoRows:
		// first run, nothing persisted yet
	default:
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load persisted credential")
	}

	return s, nil
}

// Read implements session.CredentialStore. Never performs I/O.
func (s *Bun) Read() (session.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return session.Credential{}, false
	}
	return *s.cached, true
}

// Write implements session.CredentialStore.
func (s *Bun) Write(ctx context.Context, cred session.Credential) error {
	record := &credentialRecord{
		Key:       localCredentialKey,
		Token:     cred.Token,
		Source:    string(cred.Source),
		UpdatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (key) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("source = EXCLUDED.source").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to persist credential")
	}

	s.cached = &cred
	return nil
}

// Clear implements session.CredentialStore. Idempotent.
func (s *Bun) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("key = ?", localCredentialKey).
		Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to clear credential")
	}

	s.cached = nil
	return nil
}
