//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors what the deployment provisions through its migration
// tooling. Integration tests apply it to a fresh container instead of
// depending on external state.
const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	seq BIGINT NOT NULL,
	actor_user_id UUID,
	actor_role TEXT NOT NULL,
	actor_session_id UUID,
	actor_request_id TEXT NOT NULL DEFAULT '',
	actor_ip TEXT NOT NULL DEFAULT '',
	actor_user_agent TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id UUID NOT NULL,
	resource_owner_tenant UUID NOT NULL,
	subject_id UUID NOT NULL,
	allowed BOOLEAN NOT NULL,
	reason TEXT NOT NULL,
	rule TEXT NOT NULL DEFAULT '',
	elevated BOOLEAN NOT NULL DEFAULT FALSE,
	before_digest TEXT NOT NULL DEFAULT '',
	after_digest TEXT NOT NULL DEFAULT '',
	payload BYTEA,
	prev_hash TEXT NOT NULL,
	this_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_created
	ON audit_events (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS chain_tips (
	tenant_id UUID PRIMARY KEY,
	seq BIGINT NOT NULL,
	this_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_entries (
	token TEXT PRIMARY KEY,
	tenant_id UUID NOT NULL,
	data_type TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id UUID NOT NULL,
	subject_id UUID NOT NULL,
	key_id UUID NOT NULL,
	nonce BYTEA,
	ciphertext BYTEA,
	tag BYTEA,
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_vault_entries_key
	ON vault_entries (key_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS encryption_keys (
	key_id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	version INT NOT NULL,
	algorithm TEXT NOT NULL,
	material BYTEA NOT NULL,
	material_nonce BYTEA NOT NULL,
	material_tag BYTEA NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	UNIQUE (tenant_id, version)
);

CREATE TABLE IF NOT EXISTS retention_policies (
	tenant_id UUID NOT NULL,
	data_class TEXT NOT NULL,
	retention_seconds BIGINT NOT NULL,
	action_on_expiry TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, data_class)
);

CREATE TABLE IF NOT EXISTS retention_records (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	subject_id UUID NOT NULL,
	resource_type TEXT NOT NULL,
	data_class TEXT NOT NULL,
	state TEXT NOT NULL,
	tokens TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	state_changed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retention_records_due
	ON retention_records (tenant_id, data_class, state, created_at);
CREATE INDEX IF NOT EXISTS idx_retention_records_subject
	ON retention_records (tenant_id, subject_id);

CREATE TABLE IF NOT EXISTS consent_records (
	subject_id UUID NOT NULL,
	tenant_id UUID NOT NULL,
	holder_id UUID,
	consent_type TEXT NOT NULL,
	status TEXT NOT NULL,
	granted_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ,
	restrictions TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_consent_records_subject
	ON consent_records (tenant_id, subject_id);

CREATE TABLE IF NOT EXISTS enrollment_links (
	tenant_id UUID NOT NULL,
	staff_id UUID NOT NULL,
	class_id UUID NOT NULL,
	subject_id UUID NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, staff_id, class_id, subject_id)
);
`

// PostgresContainer wraps a testcontainers Postgres instance with the schema
// applied, exposing both connection flavors the stores use.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
	Pool      *pgxpool.Pool
}

// NewPostgresContainer starts a Postgres container, applies the schema, and
// registers cleanup with the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("custos"),
		tcpostgres.WithUsername("custos"),
		tcpostgres.WithPassword("custos"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open pgx pool: %v", err)
	}

	pc := &PostgresContainer{
		Container: container,
		URL:       url,
		DB:        db,
		Pool:      pool,
	}
	t.Cleanup(func() {
		pc.Pool.Close()
		_ = pc.DB.Close()
		_ = pc.Container.Terminate(context.Background())
	})
	return pc
}

// TruncateTables clears the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", ")))
	return err
}
