// Package testutil provides testing utilities for PharmFlow backend services.
// It includes a testcontainers PostgreSQL instance carrying the supply
// schema, sqlmock helpers, and fixture factories.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "pharmflow_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "pharmflow_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreateSupplySchema creates the supply service tables. It mirrors the
// production migrations closely enough for repository and service tests.
func (c *PostgresContainer) CreateSupplySchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS drugs (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL CONSTRAINT drugs_drug_name_key UNIQUE,
			unit VARCHAR(50) NOT NULL,
			units_per_box INT NOT NULL DEFAULT 1 CHECK (units_per_box > 0),
			unit_price NUMERIC(12,4) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'available'
				CONSTRAINT drugs_status_valid CHECK (status IN ('available', 'phasing_out', 'archived')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS inventory_batches (
			id UUID PRIMARY KEY,
			drug_id UUID NOT NULL REFERENCES drugs(id),
			location_kind VARCHAR(20) NOT NULL
				CONSTRAINT inventory_batches_location_kind_valid
				CHECK (location_kind IN ('supplier', 'warehouse', 'pharmacy', 'department')),
			location_id VARCHAR(100) NOT NULL,
			batch_number VARCHAR(100) NOT NULL DEFAULT '',
			expiry_date DATE,
			quantity INT NOT NULL DEFAULT 0
				CONSTRAINT inventory_batches_quantity_non_negative CHECK (quantity >= 0),
			minimum_level INT NOT NULL DEFAULT 0 CHECK (minimum_level >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT inventory_batches_lot_key UNIQUE (drug_id, location_kind, location_id, batch_number)
		);

		CREATE INDEX IF NOT EXISTS idx_batches_fefo
			ON inventory_batches (drug_id, location_kind, location_id, expiry_date ASC NULLS LAST, created_at ASC, id ASC);

		CREATE TABLE IF NOT EXISTS supply_requests (
			id UUID PRIMARY KEY,
			kind VARCHAR(20) NOT NULL
				CONSTRAINT supply_requests_kind_valid CHECK (kind IN ('internal', 'external')),
			requester_kind VARCHAR(20) NOT NULL,
			requester_id VARCHAR(100) NOT NULL,
			fulfiller_kind VARCHAR(20) NOT NULL,
			fulfiller_id VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending'
				CONSTRAINT supply_requests_status_valid
				CHECK (status IN ('pending', 'approved', 'fulfilled', 'delivered', 'rejected', 'cancelled')),
			requested_by VARCHAR(100) NOT NULL DEFAULT '',
			handled_by VARCHAR(100),
			handled_at TIMESTAMPTZ,
			rejection_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_requests_fulfiller_status
			ON supply_requests (fulfiller_kind, fulfiller_id, status);

		CREATE TABLE IF NOT EXISTS supply_request_items (
			id UUID PRIMARY KEY,
			request_id UUID NOT NULL REFERENCES supply_requests(id) ON DELETE CASCADE,
			drug_id UUID NOT NULL REFERENCES drugs(id),
			requested_qty INT NOT NULL DEFAULT 0 CHECK (requested_qty >= 0),
			approved_qty INT,
			fulfilled_qty INT,
			received_qty INT,
			batch_number VARCHAR(100),
			expiry_date DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_request_items_request
			ON supply_request_items (request_id);
		CREATE INDEX IF NOT EXISTS idx_request_items_drug
			ON supply_request_items (drug_id);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create supply schema: %w", err)
	}

	return nil
}
