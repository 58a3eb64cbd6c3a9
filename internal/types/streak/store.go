package streak

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists streak rows. Implementations must run fn inside a single
// transaction that holds an exclusive lock keyed by userID, commit when fn
// returns nil and roll back otherwise.
type Store interface {
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error

	// LatestRow returns nil when the user has no rows.
	LatestRow(ctx context.Context, userID uuid.UUID) (*Row, error)

	// RowsSince returns rows with activity_date >= from, newest first.
	RowsSince(ctx context.Context, userID uuid.UUID, from time.Time) ([]Row, error)
}

// Tx is the locked view handed to WithUserLock callbacks. Lookups return
// nil, nil when nothing matches.
type Tx interface {
	DayRowForUpdate(ctx context.Context, userID uuid.UUID, date time.Time) (*Row, error)
	LatestRowBefore(ctx context.Context, userID uuid.UUID, date time.Time) (*Row, error)
	InsertRow(ctx context.Context, row *Row) error
	UpdateRow(ctx context.Context, row *Row) error
}
