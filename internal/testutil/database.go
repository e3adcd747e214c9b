package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"hostfleet/internal/db"
)

// SetupTestDB creates a migrated SQLite database in a temporary directory.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(db.DefaultConfig(filepath.Join(t.TempDir(), "hostfleet.db")))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// Clock is a manually advanced clock for deterministic timestamps.
type Clock struct {
	t time.Time
}

// NewClock starts a clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current time and advances the clock by one second.
func (c *Clock) Now() time.Time {
	now := c.t
	c.t = c.t.Add(time.Second)
	return now
}
