package sqlite

import (
	"context"
	"errors"
	"fmt"

	"studyStreakAPI/internal/types/streak"

	"github.com/mattn/go-sqlite3"
)

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

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy,
			sqliteErr.Code == sqlite3.ErrLocked,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w: %w", op, streak.ErrStorageContention, err)
		case sqliteErr.Code == sqlite3.ErrCantOpen,
			sqliteErr.Code == sqlite3.ErrIoErr,
			sqliteErr.Code == sqlite3.ErrNotADB:
			return fmt.Errorf("%s: %w: %w", op, streak.ErrStorageUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
