package tmrequest

import (
	"context"

	"github.com/fernandezvara/dbkit"
)

// Ping performs a basic connectivity test to the database.
// Returns an error if the database is not reachable.
func (s *BunStore) Ping(ctx context.Context) error {
	var result int
	err := s.db.NewRaw("SELECT 1").Scan(ctx, &result)
	return dbkit.WithErr1(err, "Ping").Err()
}

// IsHealthy reports whether Ping succeeds.
func (s *BunStore) IsHealthy(ctx context.Context) bool {
	return s.Ping(ctx) == nil
}
