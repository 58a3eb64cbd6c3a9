package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"studyStreakAPI/internal/types/streak"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes that mean "someone else got there first, try again".
var contentionCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available (lock_timeout)
	"57014": true, // query_canceled (statement_timeout)
	"23505": true, // unique_violation on a create race
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, streak.ErrStorageContention) || errors.Is(err, streak.ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if contentionCodes[pgErr.Code] {
			return fmt.Errorf("%s: %w: %w", op, streak.ErrStorageContention, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w: %w", op, streak.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
