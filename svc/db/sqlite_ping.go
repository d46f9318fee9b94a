package db

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Ping fails while the circuit breaker is open and otherwise checks that both
// the paste and comment tables are present.
func (s *SQLite) Ping(ctx context.Context) error {
	if atomic.LoadInt32(&s.circuitState) == circuitOpen {
		return ErrCircuitOpen
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('pastes', 'comments')`).Scan(&n)
	if err != nil {
		return errors.Wrap(err, "ping sqlite")
	}
	if n != 2 {
		return errors.Errorf("schema incomplete: %d of 2 tables", n)
	}
	return nil
}
