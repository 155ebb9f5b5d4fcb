package dbosruntime

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"go.viam.com/test"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://localhost/idmaker"}
	cfg.WithDefaults()
	test.That(t, cfg.AppName, test.ShouldEqual, "ortho-idmaker")
	test.That(t, cfg.QueueName, test.ShouldEqual, "default")
	test.That(t, cfg.Concurrency, test.ShouldEqual, 4)

	cfg = Config{QueueName: "sites", Concurrency: 2}
	cfg.WithDefaults()
	test.That(t, cfg.QueueName, test.ShouldEqual, "sites")
	test.That(t, cfg.Concurrency, test.ShouldEqual, 2)
}

func TestNewRuntimeRequiresURL(t *testing.T) {
	_, err := NewRuntime(context.Background(), Config{})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "DBOS_SYSTEM_DATABASE_URL")
}

func TestState(t *testing.T) {
	for status, want := range map[string]string{
		"ENQUEUED":                       "pending",
		"PENDING":                        "running",
		"SUCCESS":                        "succeeded",
		"ERROR":                          "failed",
		"MAX_RECOVERY_ATTEMPTS_EXCEEDED": "failed",
		"CANCELLED":                      "cancelled",
		"bogus":                          "unknown",
	} {
		test.That(t, State(status), test.ShouldEqual, want)
	}
}

// openStatusDB stands in for the DBOS system database with an attached
// in-memory schema named dbos.
func openStatusDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	test.That(t, err, test.ShouldBeNil)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`ATTACH DATABASE ':memory:' AS dbos`)
	test.That(t, err, test.ShouldBeNil)
	_, err = db.Exec(`CREATE TABLE dbos.workflow_status (
		workflow_uuid TEXT PRIMARY KEY,
		status TEXT,
		name TEXT,
		created_at INTEGER,
		updated_at INTEGER
	)`)
	test.That(t, err, test.ShouldBeNil)
	return db
}

func TestStatusStore(t *testing.T) {
	db := openStatusDB(t)
	_, err := db.Exec(`INSERT INTO dbos.workflow_status VALUES ('identify:croz-1', 'SUCCESS', 'executeWorkflowDBOS', 100, 250)`)
	test.That(t, err, test.ShouldBeNil)

	store := NewStatusStore(db)
	ctx := context.Background()

	info, err := store.Get(ctx, "identify:croz-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Status, test.ShouldEqual, "SUCCESS")
	test.That(t, info.CreatedAt, test.ShouldEqual, int64(100))
	test.That(t, info.UpdatedAt, test.ShouldEqual, int64(250))

	_, err = store.Get(ctx, "identify:missing")
	test.That(t, errors.Is(err, ErrWorkflowNotFound), test.ShouldBeTrue)
}
