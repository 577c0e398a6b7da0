//go:build integration

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/fieldwatch/internal/conf"
)

// Run with: go test -tags integration ./internal/history/
func TestMySQLStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MySQL container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("fieldwatch"),
		mysql.WithUsername("fieldwatch"),
		mysql.WithPassword("fieldwatch"),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	runStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		db, err := OpenDatabase(conf.HistorySettings{Driver: conf.DriverMySQL, DSN: dsn})
		require.NoError(t, err)
		store, err := NewGormStore(db)
		require.NoError(t, err)

		// Every subtest shares the database, so start from empty tables.
		require.NoError(t, db.Exec("DELETE FROM alert_events").Error)
		require.NoError(t, db.Exec("DELETE FROM alerts").Error)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}, false)
}
