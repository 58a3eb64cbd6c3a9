package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"studyStreakAPI/internal/logger"
	"studyStreakAPI/internal/types/streak"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory streak.Store. Each user has its own mutex and
// callbacks work on a private copy of the user's rows that is only written
// back when the callback succeeds.
type memStore struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	rows  map[uuid.UUID]map[string]streak.Row

	// failures are returned by successive WithUserLock calls before fn runs.
	failures  []error
	lockCalls int
	failWrite error
}

func newMemStore() *memStore {
	return &memStore{
		locks: make(map[uuid.UUID]*sync.Mutex),
		rows:  make(map[uuid.UUID]map[string]streak.Row),
	}
}

func (s *memStore) userLock(userID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *memStore) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx streak.Tx) error) error {
	s.mu.Lock()
	s.lockCalls++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	staged := make(map[string]streak.Row, len(s.rows[userID]))
	for k, v := range s.rows[userID] {
		staged[k] = v
	}
	failWrite := s.failWrite
	s.mu.Unlock()

	if err := fn(&memTx{rows: staged, failWrite: failWrite}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.rows[userID] = staged
	s.mu.Unlock()
	return nil
}

func (s *memStore) sorted(userID uuid.UUID) []streak.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streak.Row, 0, len(s.rows[userID]))
	for _, r := range s.rows[userID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityDate.After(out[j].ActivityDate) })
	return out
}

func (s *memStore) LatestRow(ctx context.Context, userID uuid.UUID) (*streak.Row, error) {
	rows := s.sorted(userID)
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *memStore) RowsSince(ctx context.Context, userID uuid.UUID, from time.Time) ([]streak.Row, error) {
	out := []streak.Row{}
	for _, r := range s.sorted(userID) {
		if !r.ActivityDate.Before(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) put(row streak.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[row.UserID] == nil {
		s.rows[row.UserID] = make(map[string]streak.Row)
	}
	s.rows[row.UserID][row.ActivityDate.Format(streak.DateLayout)] = row
}

type memTx struct {
	rows      map[string]streak.Row
	failWrite error
}

func (t *memTx) DayRowForUpdate(ctx context.Context, userID uuid.UUID, date time.Time) (*streak.Row, error) {
	r, ok := t.rows[date.Format(streak.DateLayout)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (t *memTx) LatestRowBefore(ctx context.Context, userID uuid.UUID, date time.Time) (*streak.Row, error) {
	var best *streak.Row
	for _, r := range t.rows {
		if r.ActivityDate.Before(date) && (best == nil || r.ActivityDate.After(best.ActivityDate)) {
			r := r
			best = &r
		}
	}
	return best, nil
}

func (t *memTx) InsertRow(ctx context.Context, row *streak.Row) error {
	if t.failWrite != nil {
		return t.failWrite
	}
	key := row.ActivityDate.Format(streak.DateLayout)
	if _, ok := t.rows[key]; ok {
		return streak.ErrStorageContention
	}
	t.rows[key] = *row
	return nil
}

func (t *memTx) UpdateRow(ctx context.Context, row *streak.Row) error {
	if t.failWrite != nil {
		return t.failWrite
	}
	key := row.ActivityDate.Format(streak.DateLayout)
	if _, ok := t.rows[key]; !ok {
		return streak.ErrStorageContention
	}
	t.rows[key] = *row
	return nil
}

func newTestService(store streak.Store) *StreakService {
	svc := NewStreakService(store, logger.Nop())
	svc.SetRetryPolicy(3, time.Millisecond)
	return svc
}

var day1 = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func dayN(n int) time.Time {
	return day1.AddDate(0, 0, n-1)
}

func TestRecordActivityScenario(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	userID := uuid.New()

	res, err := svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityVideo)
	require.NoError(t, err)
	assert.Equal(t, streak.ActionFirstWatchToday, res.Action)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 1, res.LongestStreak)
	assert.Equal(t, 1, res.VideosWatched)

	res, err = svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityQuiz)
	require.NoError(t, err)
	assert.Equal(t, streak.ActionIncrementedToday, res.Action)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 1, res.QuizzesCompleted)
	assert.Equal(t, 1, res.VideosWatched)

	res, err = svc.RecordActivity(ctx, userID, dayN(2), streak.ActivityNotes)
	require.NoError(t, err)
	assert.Equal(t, streak.ActionFirstActivityToday, res.Action)
	assert.Equal(t, 2, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)
	assert.Equal(t, 1, res.NotesCompleted)
	assert.Equal(t, 0, res.VideosWatched)

	res, err = svc.RecordActivity(ctx, userID, dayN(4), streak.ActivityVideo)
	require.NoError(t, err)
	assert.Equal(t, streak.ActionFirstWatchToday, res.Action)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)

	assert.Len(t, store.sorted(userID), 3)
}

func TestRecordActivitySameDayIncrements(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	userID := uuid.New()

	const n = 5
	var res *streak.Result
	var err error
	for i := 0; i < n; i++ {
		res, err = svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityNotes)
		require.NoError(t, err)
		assert.Equal(t, 1, res.CurrentStreak)
		if i > 0 {
			assert.Equal(t, streak.ActionIncrementedToday, res.Action)
		}
	}
	assert.Equal(t, n, res.NotesCompleted)
	assert.Equal(t, 0, res.VideosWatched)
	assert.Equal(t, 0, res.QuizzesCompleted)
}

func TestRecordActivityContinuesFromYesterday(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()
	store.put(streak.Row{UserID: userID, ActivityDate: dayN(10), CurrentStreak: 6, LongestStreak: 9, QuizzesCompleted: 1})

	res, err := svc.RecordActivity(context.Background(), userID, dayN(11), streak.ActivityQuiz)
	require.NoError(t, err)
	assert.Equal(t, 7, res.CurrentStreak)
	assert.Equal(t, 9, res.LongestStreak)

	res, err = svc.RecordActivity(context.Background(), userID, dayN(13), streak.ActivityQuiz)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 9, res.LongestStreak)
}

func TestRecordActivityUsesCalendarDayNotPreviousRow(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()
	// sparse rows: the most recent earlier row is two days back
	store.put(streak.Row{UserID: userID, ActivityDate: dayN(1), CurrentStreak: 3, LongestStreak: 3, VideosWatched: 1})

	res, err := svc.RecordActivity(context.Background(), userID, dayN(3), streak.ActivityVideo)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentStreak)
	assert.Equal(t, 3, res.LongestStreak)
}

func TestRecordActivityAllZeroRowCountsAsFirst(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()
	store.put(streak.Row{UserID: userID, ActivityDate: dayN(1), CurrentStreak: 4, LongestStreak: 4, VideosWatched: 2})
	store.put(streak.Row{UserID: userID, ActivityDate: dayN(2)})

	res, err := svc.RecordActivity(context.Background(), userID, dayN(2), streak.ActivityNotes)
	require.NoError(t, err)
	assert.Equal(t, streak.ActionFirstActivityToday, res.Action)
	assert.Equal(t, 5, res.CurrentStreak)
	assert.Equal(t, 5, res.LongestStreak)
	assert.Equal(t, 1, res.NotesCompleted)
	assert.Len(t, store.sorted(userID), 2)
}

func TestRecordActivityLongestIsMonotonic(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()
	days := []int{1, 2, 3, 5, 6, 9, 10, 11, 12, 13, 20, 21}

	maxCurrent := 0
	for _, d := range days {
		res, err := svc.RecordActivity(context.Background(), userID, dayN(d), streak.ActivityVideo)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.LongestStreak, maxCurrent)
		assert.GreaterOrEqual(t, res.LongestStreak, res.CurrentStreak)
		if res.CurrentStreak > maxCurrent {
			maxCurrent = res.CurrentStreak
		}
	}
	assert.Equal(t, 5, maxCurrent)

	latest, err := store.LatestRow(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.CurrentStreak)
	assert.Equal(t, 5, latest.LongestStreak)
}

func TestRecordActivityRejectsUnknownType(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	_, err := svc.RecordActivity(context.Background(), uuid.New(), dayN(1), streak.ActivityType("podcast"))
	require.ErrorIs(t, err, streak.ErrInvalidActivityType)
	assert.Equal(t, 0, store.lockCalls)
}

func TestRecordActivityRetriesContention(t *testing.T) {
	store := newMemStore()
	store.failures = []error{streak.ErrStorageContention, streak.ErrStorageContention}
	svc := newTestService(store)

	res, err := svc.RecordActivity(context.Background(), uuid.New(), dayN(1), streak.ActivityVideo)
	require.NoError(t, err)
	assert.Equal(t, 1, res.VideosWatched)
	assert.Equal(t, 3, store.lockCalls)
}

func TestRecordActivityGivesUpAfterMaxAttempts(t *testing.T) {
	store := newMemStore()
	store.failures = []error{streak.ErrStorageContention, streak.ErrStorageContention, streak.ErrStorageContention}
	svc := newTestService(store)

	_, err := svc.RecordActivity(context.Background(), uuid.New(), dayN(1), streak.ActivityVideo)
	require.ErrorIs(t, err, streak.ErrStorageContention)
	assert.Equal(t, 3, store.lockCalls)
}

func TestRecordActivityDoesNotRetryUnavailable(t *testing.T) {
	store := newMemStore()
	store.failures = []error{streak.ErrStorageUnavailable}
	svc := newTestService(store)

	_, err := svc.RecordActivity(context.Background(), uuid.New(), dayN(1), streak.ActivityVideo)
	require.ErrorIs(t, err, streak.ErrStorageUnavailable)
	assert.Equal(t, 1, store.lockCalls)
}

func TestRecordActivityWriteFailureLeavesNoRow(t *testing.T) {
	store := newMemStore()
	store.failWrite = errors.New("disk full")
	svc := newTestService(store)
	userID := uuid.New()

	_, err := svc.RecordActivity(context.Background(), userID, dayN(1), streak.ActivityVideo)
	require.Error(t, err)
	assert.Empty(t, store.sorted(userID))
}

func TestRecordActivityCancelledContextCommitsNothing(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityVideo)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.sorted(userID))
}

func TestRecordActivityConcurrentSameUser(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()

	const callers = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.RecordActivity(context.Background(), userID, dayN(1), streak.ActivityVideo)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows := store.sorted(userID)
	require.Len(t, rows, 1)
	assert.Equal(t, callers, rows[0].VideosWatched)
	assert.Equal(t, 1, rows[0].CurrentStreak)
	assert.Equal(t, 1, rows[0].LongestStreak)
}

func TestGetStatus(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	ctx := context.Background()
	userID := uuid.New()
	store.put(streak.Row{UserID: userID, ActivityDate: dayN(5), CurrentStreak: 4, LongestStreak: 7, VideosWatched: 3})

	tests := []struct {
		name        string
		today       time.Time
		status      streak.Status
		current     int
		videosToday int
	}{
		{"same day", dayN(5), streak.StatusActive, 4, 3},
		{"grace day", dayN(6), streak.StatusActive, 4, 0},
		{"broken", dayN(7), streak.StatusBroken, 0, 0},
		{"long gap", dayN(40), streak.StatusBroken, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.GetStatus(ctx, userID, tt.today)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.StreakStatus)
			assert.Equal(t, tt.current, res.CurrentStreak)
			assert.Equal(t, 7, res.LongestStreak)
			assert.Equal(t, tt.videosToday, res.VideosWatchedToday)
			require.NotNil(t, res.LastActivityDate)
			assert.True(t, res.LastActivityDate.Equal(dayN(5)))
		})
	}

	// stored row is untouched by a broken read
	latest, _ := store.LatestRow(ctx, userID)
	assert.Equal(t, 4, latest.CurrentStreak)
}

func TestGetStatusNoActivity(t *testing.T) {
	svc := newTestService(newMemStore())

	res, err := svc.GetStatus(context.Background(), uuid.New(), dayN(1))
	require.NoError(t, err)
	assert.Equal(t, streak.StatusNoActivity, res.StreakStatus)
	assert.Zero(t, res.CurrentStreak)
	assert.Zero(t, res.LongestStreak)
	assert.Nil(t, res.LastActivityDate)
}

func TestGetStatusAfterRecordOnDayPlusTwo(t *testing.T) {
	svc := newTestService(newMemStore())
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityVideo)
	require.NoError(t, err)
	_, err = svc.RecordActivity(ctx, userID, dayN(2), streak.ActivityVideo)
	require.NoError(t, err)

	res, err := svc.GetStatus(ctx, userID, dayN(4))
	require.NoError(t, err)
	assert.Equal(t, streak.StatusBroken, res.StreakStatus)
	assert.Equal(t, 0, res.CurrentStreak)
	assert.Equal(t, 2, res.LongestStreak)
}

func TestGetHistory(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	userID := uuid.New()
	for _, d := range []int{1, 3, 8, 9, 10} {
		store.put(streak.Row{UserID: userID, ActivityDate: dayN(d), CurrentStreak: 1, LongestStreak: 1, NotesCompleted: 1})
	}
	store.put(streak.Row{UserID: uuid.New(), ActivityDate: dayN(10), CurrentStreak: 1, LongestStreak: 1})

	rows, err := svc.GetHistory(context.Background(), userID, dayN(10), 7)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.True(t, rows[0].ActivityDate.Equal(dayN(10)))
	assert.True(t, rows[3].ActivityDate.Equal(dayN(3)))

	// calling again restarts from the beginning
	again, err := svc.GetHistory(context.Background(), userID, dayN(10), 7)
	require.NoError(t, err)
	assert.Equal(t, rows, again)

	none, err := svc.GetHistory(context.Background(), userID, dayN(30), 2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*streak.StatusResult
	versions    map[uuid.UUID]int64
	invalidated int
	// invalidateErrs records ctx.Err() as seen by each Invalidate call.
	invalidateErrs []error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:  map[uuid.UUID]*streak.StatusResult{},
		versions: map[uuid.UUID]int64{},
	}
}

func (c *fakeCache) Get(ctx context.Context, userID uuid.UUID, today time.Time) (*streak.StatusResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[userID]
	return res, ok
}

func (c *fakeCache) Version(ctx context.Context, userID uuid.UUID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], true
}

func (c *fakeCache) Set(ctx context.Context, userID uuid.UUID, today time.Time, version int64, res *streak.StatusResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return
	}
	c.entries[userID] = res
}

func (c *fakeCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	c.versions[userID]++
	c.invalidated++
	c.invalidateErrs = append(c.invalidateErrs, ctx.Err())
}

func (c *fakeCache) entry(userID uuid.UUID) (*streak.StatusResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[userID]
	return res, ok
}

// gatedStore parks the first LatestRow call after it has read the rows,
// until release is closed.
type gatedStore struct {
	*memStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) LatestRow(ctx context.Context, userID uuid.UUID) (*streak.Row, error) {
	row, err := s.memStore.LatestRow(ctx, userID)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return row, err
}

// cancelAfterCommitStore cancels the caller's context right after the
// transaction commits.
type cancelAfterCommitStore struct {
	*memStore
	cancel context.CancelFunc
}

func (s *cancelAfterCommitStore) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(tx streak.Tx) error) error {
	err := s.memStore.WithUserLock(ctx, userID, fn)
	s.cancel()
	return err
}

func TestStatusCacheInvalidatedOnRecord(t *testing.T) {
	svc := newTestService(newMemStore())
	cache := newFakeCache()
	svc.SetStatusCache(cache)
	ctx := context.Background()
	userID := uuid.New()

	res, err := svc.GetStatus(ctx, userID, dayN(1))
	require.NoError(t, err)
	assert.Equal(t, streak.StatusNoActivity, res.StreakStatus)
	_, cached := cache.entry(userID)
	assert.True(t, cached)

	_, err = svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityQuiz)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidated)

	res, err = svc.GetStatus(ctx, userID, dayN(1))
	require.NoError(t, err)
	assert.Equal(t, streak.StatusActive, res.StreakStatus)
	assert.Equal(t, 1, res.CurrentStreak)
}

func TestStatusReadDuringRecordIsNotCached(t *testing.T) {
	store := &gatedStore{memStore: newMemStore(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(store)
	cache := newFakeCache()
	svc.SetStatusCache(cache)
	ctx := context.Background()
	userID := uuid.New()

	done := make(chan *streak.StatusResult, 1)
	go func() {
		res, err := svc.GetStatus(ctx, userID, dayN(1))
		assert.NoError(t, err)
		done <- res
	}()

	<-store.entered
	_, err := svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityVideo)
	require.NoError(t, err)
	close(store.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, streak.StatusNoActivity, stale.StreakStatus)

	_, cached := cache.entry(userID)
	assert.False(t, cached, "status read before the write must not be cached after it")

	res, err := svc.GetStatus(ctx, userID, dayN(1))
	require.NoError(t, err)
	assert.Equal(t, streak.StatusActive, res.StreakStatus)
	assert.Equal(t, 1, res.CurrentStreak)
}

func TestStatusCacheInvalidatedAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelAfterCommitStore{memStore: newMemStore(), cancel: cancel}
	svc := newTestService(store)
	cache := newFakeCache()
	svc.SetStatusCache(cache)
	userID := uuid.New()

	_, err := svc.RecordActivity(ctx, userID, dayN(1), streak.ActivityNotes)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	require.Len(t, cache.invalidateErrs, 1)
	assert.NoError(t, cache.invalidateErrs[0])
}
