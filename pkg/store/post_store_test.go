package store

import (
	"testing"

	"github.com/google/uuid"
)

// Store's CRUD methods require a live Postgres connection and are
// exercised by integration tests outside this package; here we cover the
// pure logic that doesn't need a database.

func TestAdvisoryKey_Deterministic(t *testing.T) {
	id := uuid.New()
	if advisoryKey(id) != advisoryKey(id) {
		t.Error("advisoryKey should be deterministic for the same UUID")
	}
}

func TestAdvisoryKey_DiffersAcrossIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	if advisoryKey(a) == advisoryKey(b) {
		t.Error("advisoryKey collided for two distinct UUIDs (statistically should not happen)")
	}
}
