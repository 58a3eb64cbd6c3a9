package streak

import "errors"

var (
	// ErrInvalidActivityType is returned before any store access.
	ErrInvalidActivityType = errors.New("invalid activity type")

	// ErrStorageContention covers lock timeouts, serialization failures and
	// create races. The whole operation is safe to retry.
	ErrStorageContention = errors.New("streak storage contention")

	// ErrStorageUnavailable means the store could not be reached.
	ErrStorageUnavailable = errors.New("streak storage unavailable")
)

func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageContention)
}
