package alarm

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"ticker-alarm-bot/internal/types"
)

func testAlarm(ownerID int64, requestID int) types.Alarm {
	return types.Alarm{
		ID:        types.MakeAlarmID(ownerID, requestID),
		OwnerID:   ownerID,
		Ticker:    "ABC",
		Condition: types.GreaterThan,
		Target:    100,
		Repeat:    types.FireOnce,
	}
}

// TestRegistryRejectsDuplicates verifies that an id is live at most once.
func TestRegistryRejectsDuplicates(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Register(context.Background(), testAlarm(1, 1), nil)
	require.NoError(t, err)

	_, err = r.Register(context.Background(), testAlarm(1, 1), nil)
	var dupErr *types.DuplicateAlarmError
	require.True(t, errors.As(err, &dupErr))
	require.Equal(t, "1-1", dupErr.ID)
	require.Equal(t, 1, r.Len())
}

// TestRegistryPersistFailureAddsNothing ensures a failed store write leaves no entry.
func TestRegistryPersistFailureAddsNothing(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Register(context.Background(), testAlarm(1, 1), func(types.Alarm) error {
		return errors.New("disk full")
	})
	require.Error(t, err)
	require.Equal(t, 0, r.Len())

	_, ok := r.Get("1-1")
	require.False(t, ok)
}

// TestRegistryUnregisterCancels checks idempotent removal and handle cancellation.
func TestRegistryUnregisterCancels(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	entry, err := r.Register(context.Background(), testAlarm(1, 1), nil)
	require.NoError(t, err)
	require.False(t, entry.Cancelled())

	require.True(t, r.Unregister("1-1"))
	require.True(t, entry.Cancelled())
	require.Equal(t, 0, r.Len())

	select {
	case <-entry.Done():
	default:
		t.Fatal("entry handle not cancelled")
	}

	require.False(t, r.Unregister("1-1"))
	require.False(t, r.Unregister("unknown"))
}

// TestRegistryUnregisterAll removes every entry and reports the count.
func TestRegistryUnregisterAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var entries []*Entry
	for i := 1; i <= 3; i++ {
		entry, err := r.Register(context.Background(), testAlarm(int64(i), i), nil)
		require.NoError(t, err)
		entries = append(entries, entry)
	}

	require.Equal(t, 3, r.UnregisterAll())
	require.Equal(t, 0, r.Len())
	for _, entry := range entries {
		require.True(t, entry.Cancelled())
	}

	require.Equal(t, 0, r.UnregisterAll())
}

// TestRegistryListForOwner returns only the owner's alarms in insertion order.
func TestRegistryListForOwner(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, a := range []types.Alarm{testAlarm(1, 3), testAlarm(2, 1), testAlarm(1, 1), testAlarm(1, 2)} {
		_, err := r.Register(context.Background(), a, nil)
		require.NoError(t, err)
	}
	require.True(t, r.Unregister("1-1"))

	var ids []string
	for _, a := range r.ListForOwner(1) {
		ids = append(ids, a.ID)
	}
	require.Equal(t, []string{"1-3", "1-2"}, ids)
	require.Empty(t, r.ListForOwner(3))
}

// TestRegistryRetire exercises match filtering and persistence ordering.
func TestRegistryRetire(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	entry, err := r.Register(context.Background(), testAlarm(1, 1), nil)
	require.NoError(t, err)

	_, removed, err := r.Retire("1-1", func(a types.Alarm) bool { return a.OwnerID == 2 }, nil)
	require.NoError(t, err)
	require.False(t, removed)
	require.False(t, entry.Cancelled())

	var visibleDuringPersist bool
	alarm, removed, err := r.Retire("1-1", nil, func(a types.Alarm) error {
		_, visibleDuringPersist = r.entries[a.ID]
		return errors.New("store unavailable")
	})
	require.Error(t, err)
	require.True(t, removed)
	require.True(t, visibleDuringPersist)
	require.Equal(t, "1-1", alarm.ID)
	require.True(t, entry.Cancelled())

	_, removed, _ = r.Retire("1-1", nil, nil)
	require.False(t, removed)
}

// TestRegistryRetireAll filters by match and collects persistence errors.
func TestRegistryRetireAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, a := range []types.Alarm{testAlarm(1, 1), testAlarm(2, 1), testAlarm(1, 2)} {
		_, err := r.Register(context.Background(), a, nil)
		require.NoError(t, err)
	}

	var persisted []string
	retired, err := r.RetireAll(func(a types.Alarm) bool { return a.OwnerID == 1 }, func(a types.Alarm) error {
		persisted = append(persisted, a.ID)
		if a.ID == "1-2" {
			return errors.New("boom")
		}
		return nil
	})
	require.Error(t, err)
	require.Len(t, retired, 2)
	require.Equal(t, []string{"1-1", "1-2"}, persisted)
	require.Equal(t, 1, r.Len())

	_, ok := r.Get("2-1")
	require.True(t, ok)
}

// TestRegistryParentCancellation cancels entries with their parent context.
func TestRegistryParentCancellation(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	r := NewRegistry()
	entry, err := r.Register(parent, testAlarm(1, 1), nil)
	require.NoError(t, err)

	cancel()
	require.True(t, entry.Cancelled())
}

// TestRegistryRetireEntryIgnoresReusedID keeps a stale handle from retiring
// the entry that later took over its id.
func TestRegistryRetireEntryIgnoresReusedID(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	stale, err := r.Register(context.Background(), testAlarm(1, 1), nil)
	require.NoError(t, err)
	require.True(t, r.Unregister("1-1"))

	current, err := r.Register(context.Background(), testAlarm(1, 1), nil)
	require.NoError(t, err)

	var persisted bool
	_, removed, err := r.RetireEntry(stale, func(types.Alarm) error {
		persisted = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, removed)
	require.False(t, persisted)
	require.False(t, current.Cancelled())
	require.Equal(t, 1, r.Len())

	alarm, removed, err := r.RetireEntry(current, nil)
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, "1-1", alarm.ID)
	require.True(t, current.Cancelled())
	require.Equal(t, 0, r.Len())
}
