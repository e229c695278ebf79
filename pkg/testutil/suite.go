package testutil

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/pharmflow/pharmflow-backend/pkg/database"
	"github.com/pharmflow/pharmflow-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite creates a new integration test suite.
// Call this in TestMain to set up shared test infrastructure.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx)
//	    if err != nil {
//	        log.Fatalf("failed to create integration suite: %v", err)
//	    }
//	    defer testutil.TerminateContainer(ctx)
//
//	    os.Exit(m.Run())
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.New("test", "test")
	wrappedDB, err := database.NewWithDSN(container.DSN, log)
	if err != nil {
		return nil, err
	}

	if err := container.CreateSupplySchema(ctx, db); err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrappedDB,
		Fixtures:  NewFixtureFactory(),
		Logger:    log,
	}, nil
}

// getOrCreateContainer returns the shared test container
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// TerminateContainer terminates the shared container.
// Only call this in TestMain after all tests have completed.
func TerminateContainer(ctx context.Context) {
	if globalContainer != nil {
		globalContainer.Terminate(ctx)
	}
}

// Reset truncates every supply table. Call at the start of a test that
// needs a clean slate; the shared container keeps its schema.
func (s *IntegrationSuite) Reset(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx,
		`TRUNCATE supply_request_items, supply_requests, inventory_batches, drugs CASCADE`)
	if err != nil {
		t.Fatalf("failed to reset supply tables: %v", err)
	}
}

// SeedDrug inserts a drug fixture
func (s *IntegrationSuite) SeedDrug(t *testing.T, ctx context.Context, d DrugFixture) DrugFixture {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx, `
		INSERT INTO drugs (id, name, unit, units_per_box, unit_price, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Name, d.Unit, d.UnitsPerBox, d.UnitPrice, d.Status)
	if err != nil {
		t.Fatalf("failed to seed drug: %v", err)
	}
	return d
}

// SeedBatch inserts an inventory batch fixture
func (s *IntegrationSuite) SeedBatch(t *testing.T, ctx context.Context, b BatchFixture) BatchFixture {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx, `
		INSERT INTO inventory_batches (id, drug_id, location_kind, location_id, batch_number, expiry_date, quantity, minimum_level)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.DrugID, b.LocationKind, b.LocationID, b.BatchNumber, b.ExpiryDate, b.Quantity, b.MinimumLevel)
	if err != nil {
		t.Fatalf("failed to seed batch: %v", err)
	}
	return b
}

// SeedRequest inserts a supply request fixture with one line per drug
func (s *IntegrationSuite) SeedRequest(t *testing.T, ctx context.Context, r RequestFixture, lines map[string]int) RequestFixture {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx, `
		INSERT INTO supply_requests (id, kind, requester_kind, requester_id, fulfiller_kind, fulfiller_id, status, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Kind, r.RequesterKind, r.RequesterID, r.FulfillerKind, r.FulfillerID, r.Status, r.RequestedBy)
	if err != nil {
		t.Fatalf("failed to seed request: %v", err)
	}

	for drugID, qty := range lines {
		s.SeedRequestItem(t, ctx, r.ID, drugID, qty)
	}
	return r
}

// SeedRequestItem inserts one request line
func (s *IntegrationSuite) SeedRequestItem(t *testing.T, ctx context.Context, requestID, drugID string, qty int) {
	t.Helper()
	_, err := s.RawDB.ExecContext(ctx, `
		INSERT INTO supply_request_items (id, request_id, drug_id, requested_qty)
		VALUES (gen_random_uuid(), $1, $2, $3)`,
		requestID, drugID, qty)
	if err != nil {
		t.Fatalf("failed to seed request item: %v", err)
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// IsCI returns true if running in CI environment
func IsCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL"}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}
