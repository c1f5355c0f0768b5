// Package repository persists the console credential in a local database
// so a signed in operator survives a restart.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	auth "github.com/goliatone/go-console-auth"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// BearerTokenKey is the row holding the bearer credential
const BearerTokenKey = "bearer_token"

// CredentialModel is the Bun model for stored client credentials.
type CredentialModel struct {
	bun.BaseModel `bun:"table:client_credentials"`

	Name      string    `bun:"name,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

var _ auth.CredentialStore = (*CredentialRepository)(nil)

// CredentialRepository implements auth.CredentialStore using Bun.
type CredentialRepository struct {
	db  bun.IDB
	key string
}

type CredentialOption func(*CredentialRepository)

// WithKey stores the credential under a different row name
func WithKey(key string) CredentialOption {
	return func(r *CredentialRepository) {
		if key != "" {
			r.key = key
		}
	}
}

// NewCredentialRepository creates a new repository.
func NewCredentialRepository(db bun.IDB, opts ...CredentialOption) *CredentialRepository {
	r := &CredentialRepository{db: db, key: BearerTokenKey}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Open connects to a SQLite database through the shim driver
func Open(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate creates the credentials table when missing
func (r *CredentialRepository) Migrate(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*CredentialModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Get implements auth.CredentialStore. A missing row is an empty token.
func (r *CredentialRepository) Get(ctx context.Context) (string, error) {
	var model CredentialModel
	err := r.db.NewSelect().
		Model(&model).
		Where("name = ?", r.key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return model.Value, nil
}

// Set implements auth.CredentialStore.
func (r *CredentialRepository) Set(ctx context.Context, token string) error {
	if token == "" {
		return r.Clear(ctx)
	}

	_, err := r.db.NewInsert().
		Model(&CredentialModel{
			Name:      r.key,
			Value:     token,
			UpdatedAt: time.Now().UTC(),
		}).
		On("CONFLICT (name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// Clear implements auth.CredentialStore.
func (r *CredentialRepository) Clear(ctx context.Context) error {
	_, err := r.db.NewDelete().
		Model((*CredentialModel)(nil)).
		Where("name = ?", r.key).
		Exec(ctx)
	return err
}
