package alarm

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"ticker-alarm-bot/internal/types"
)

// Entry is a live alarm together with the handle that cancels its ticks.
type Entry struct {
	alarm  types.Alarm
	ctx    context.Context
	cancel context.CancelFunc
}

func (e *Entry) Alarm() types.Alarm {
	return e.alarm
}

// Context is cancelled as soon as the entry leaves the registry.
func (e *Entry) Context() context.Context {
	return e.ctx
}

func (e *Entry) Done() <-chan struct{} {
	return e.ctx.Done()
}

func (e *Entry) Cancelled() bool {
	return e.ctx.Err() != nil
}

// Registry indexes live alarms by id. Removal and cancellation happen under
// one lock, so an entry is never discoverable after its handle is cancelled.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds alarm under a handle derived from parent. persist, when not
// nil, runs under the registry lock before the entry becomes visible; if it
// fails nothing is added.
func (r *Registry) Register(parent context.Context, alarm types.Alarm, persist func(types.Alarm) error) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[alarm.ID]; exists {
		return nil, &types.DuplicateAlarmError{ID: alarm.ID}
	}

	if persist != nil {
		if err := persist(alarm); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(parent)
	entry := &Entry{alarm: alarm, ctx: ctx, cancel: cancel}
	r.entries[alarm.ID] = entry
	r.order = append(r.order, alarm.ID)

	return entry, nil
}

// Retire removes the entry for id if match accepts it (nil matches all).
// persist runs before the removal is observable; the entry is removed and
// cancelled even if persist fails, and the error is returned.
// Only one caller can observe removed == true for a given entry.
func (r *Registry) Retire(id string, match func(types.Alarm) bool, persist func(types.Alarm) error) (alarm types.Alarm, removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists || (match != nil && !match(entry.alarm)) {
		return types.Alarm{}, false, nil
	}
	return r.retireLocked(entry, persist)
}

// RetireEntry is Retire for a specific handle. It does nothing if the id is
// now held by a different entry, such as one restored after entry was removed.
func (r *Registry) RetireEntry(entry *Entry, persist func(types.Alarm) error) (alarm types.Alarm, removed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[entry.alarm.ID] != entry {
		return types.Alarm{}, false, nil
	}
	return r.retireLocked(entry, persist)
}

// RetireAll retires every entry accepted by match, in insertion order.
func (r *Registry) RetireAll(match func(types.Alarm) bool, persist func(types.Alarm) error) ([]types.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		retired []types.Alarm
		errs    error
	)

	for _, id := range append([]string(nil), r.order...) {
		entry := r.entries[id]
		if match != nil && !match(entry.alarm) {
			continue
		}

		if persist != nil {
			errs = multierr.Append(errs, persist(entry.alarm))
		}
		r.removeLocked(entry)
		retired = append(retired, entry.alarm)
	}

	return retired, errs
}

// Unregister removes and cancels id. It reports whether an entry existed.
func (r *Registry) Unregister(id string) bool {
	_, removed, _ := r.Retire(id, nil, nil)
	return removed
}

// UnregisterAll removes and cancels every entry and returns how many there were.
func (r *Registry) UnregisterAll() int {
	retired, _ := r.RetireAll(nil, nil)
	return len(retired)
}

func (r *Registry) Get(id string) (types.Alarm, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		return types.Alarm{}, false
	}
	return entry.alarm, true
}

// ListForOwner returns a snapshot of ownerID's live alarms in insertion order.
func (r *Registry) ListForOwner(ownerID int64) []types.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()

	var alarms []types.Alarm
	for _, id := range r.order {
		if entry := r.entries[id]; entry.alarm.OwnerID == ownerID {
			alarms = append(alarms, entry.alarm)
		}
	}
	return alarms
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func (r *Registry) retireLocked(entry *Entry, persist func(types.Alarm) error) (types.Alarm, bool, error) {
	var err error
	if persist != nil {
		err = persist(entry.alarm)
	}
	r.removeLocked(entry)

	return entry.alarm, true, err
}

func (r *Registry) removeLocked(entry *Entry) {
	delete(r.entries, entry.alarm.ID)
	entry.cancel()

	for i, id := range r.order {
		if id == entry.alarm.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
