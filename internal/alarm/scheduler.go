package alarm

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"ticker-alarm-bot/internal/types"
)

// ErrStopped is returned by Register and Restore after Stop.
var ErrStopped = errors.New("alarm scheduler stopped")

// Scope decides which alarms a user can unset.
type Scope int

const (
	// ScopeOwner limits unset and unset-all to the caller's own alarms.
	ScopeOwner Scope = iota
	// ScopeGlobal lets unset-all remove every live alarm of every user.
	ScopeGlobal
)

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "owner":
		return ScopeOwner, nil
	case "global":
		return ScopeGlobal, nil
	}
	return 0, errors.Errorf("unknown unset scope %q, expected 'owner' or 'global'", s)
}

// Options configures a Scheduler. Zero values fall back to the defaults
// below, except FirstDelay where zero means the first tick runs immediately.
type Options struct {
	Interval      time.Duration
	FirstDelay    time.Duration
	FetchTimeout  time.Duration
	NotifyTimeout time.Duration
	StoreTimeout  time.Duration
	// Workers bounds how many ticks run at the same time across all alarms.
	Workers       int
	UnsetAllScope Scope
	Metrics       Metrics
	Now           func() time.Time
}

const (
	DefaultInterval      = 10 * time.Second
	DefaultFirstDelay    = time.Second
	DefaultFetchTimeout  = 5 * time.Second
	DefaultNotifyTimeout = 5 * time.Second
	DefaultStoreTimeout  = 5 * time.Second
	DefaultWorkers       = 16
)

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.FirstDelay < 0 {
		o.FirstDelay = DefaultFirstDelay
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = DefaultNotifyTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Scheduler runs one periodic evaluator per live alarm and executes the
// fire and retire decisions.
type Scheduler struct {
	opts     Options
	registry *Registry
	prices   PriceSource
	store    Store
	notifier Notifier
	pool     *semaphore.Weighted

	// mu orders Stop after any Register or Restore already in progress.
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
}

func NewScheduler(prices PriceSource, store Store, notifier Notifier, opts Options) *Scheduler {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		opts:     opts,
		registry: NewRegistry(),
		prices:   prices,
		store:    store,
		notifier: notifier,
		pool:     semaphore.NewWeighted(int64(opts.Workers)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register persists a new alarm and starts ticking it.
func (s *Scheduler) Register(ctx context.Context, ownerID int64, requestID int, req types.Request) (types.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return types.Alarm{}, ErrStopped
	}

	alarm := types.NewAlarm(ownerID, requestID, req, s.opts.Now())

	entry, err := s.registry.Register(s.ctx, alarm, func(a types.Alarm) error {
		storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()

		return errors.Wrap(s.store.InsertAlarm(storeCtx, a), "could not save alarm")
	})
	if err != nil {
		return types.Alarm{}, err
	}

	s.opts.Metrics.AlarmRegistered()
	s.opts.Metrics.LiveAlarms(s.registry.Len())
	log.WithFields(log.Fields{"alarm_id": alarm.ID, "ticker": alarm.Ticker}).Info("alarm set")

	s.schedule(entry)
	return alarm, nil
}

// Restore re-registers every active alarm in the store. Alarms that are
// already live are skipped. It returns how many alarms were scheduled.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	alarms, err := s.store.ListAllActive(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "could not load active alarms")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return 0, ErrStopped
	}

	var restored int
	for _, a := range alarms {
		entry, err := s.registry.Register(s.ctx, a, nil)
		if err != nil {
			log.WithField("alarm_id", a.ID).Debugf("skipping restore: %v", err)
			continue
		}
		s.schedule(entry)
		restored++
	}

	s.opts.Metrics.LiveAlarms(s.registry.Len())
	return restored, nil
}

// Unset retires the alarm id on behalf of ownerID. It returns
// types.ErrNotFound when no matching alarm is live.
func (s *Scheduler) Unset(ctx context.Context, ownerID int64, id string) (types.Alarm, error) {
	alarm, removed := s.retire(ctx, id, s.ownerMatch(ownerID, ScopeOwner), types.ReasonUnset)
	if !removed {
		return types.Alarm{}, types.ErrNotFound
	}
	return alarm, nil
}

// UnsetAll retires every alarm ownerID may remove under the configured scope.
// It returns types.ErrNothingToUnset when there is none.
func (s *Scheduler) UnsetAll(ctx context.Context, ownerID int64) (int, error) {
	retired, err := s.registry.RetireAll(s.ownerMatch(ownerID, s.opts.UnsetAllScope), s.persistRetirement(ctx, types.ReasonUnset))
	if err != nil {
		log.Errorf("Failed to persist unset of all alarms: %v", err)
	}

	for range retired {
		s.opts.Metrics.AlarmRetired(types.ReasonUnset)
	}
	s.opts.Metrics.LiveAlarms(s.registry.Len())

	if len(retired) == 0 {
		return 0, types.ErrNothingToUnset
	}

	log.WithField("count", len(retired)).Info("alarms unset")
	return len(retired), nil
}

// List returns ownerID's alarms the store still holds active, oldest first.
// If the store cannot be read it falls back to the alarms live in this process.
func (s *Scheduler) List(ctx context.Context, ownerID int64) []types.Alarm {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	alarms, err := s.store.ListActive(storeCtx, ownerID)
	if err != nil {
		log.WithField("owner_id", ownerID).Warnf("listing live alarms, store unavailable: %v", err)
		return s.registry.ListForOwner(ownerID)
	}
	return alarms
}

func (s *Scheduler) Len() int {
	return s.registry.Len()
}

// Stop cancels every live alarm without retiring it, so the store still
// reports them active, and waits for their goroutines to exit. Register and
// Restore fail with ErrStopped afterwards. Stop may be called more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.registry.UnregisterAll()
	s.mu.Unlock()

	s.opts.Metrics.LiveAlarms(0)
	s.wg.Wait()
}

func (s *Scheduler) ownerMatch(ownerID int64, scope Scope) func(types.Alarm) bool {
	if scope == ScopeGlobal {
		return nil
	}
	return func(a types.Alarm) bool {
		return a.OwnerID == ownerID
	}
}

func (s *Scheduler) persistRetirement(ctx context.Context, reason types.Reason) func(types.Alarm) error {
	return func(a types.Alarm) error {
		storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()

		return errors.Wrapf(s.store.MarkRetired(storeCtx, a.ID, reason), "could not retire alarm %s", a.ID)
	}
}

// retire removes id from the registry after recording reason in the store.
// Only the caller that actually removed the entry gets removed == true.
func (s *Scheduler) retire(ctx context.Context, id string, match func(types.Alarm) bool, reason types.Reason) (types.Alarm, bool) {
	alarm, removed, err := s.registry.Retire(id, match, s.persistRetirement(ctx, reason))
	return s.retired(alarm, removed, err, reason)
}

// retireEntry retires the alarm a tick was evaluating, but only while that
// same handle is still the live one.
func (s *Scheduler) retireEntry(entry *Entry, reason types.Reason) bool {
	alarm, removed, err := s.registry.RetireEntry(entry, s.persistRetirement(s.ctx, reason))
	_, removed = s.retired(alarm, removed, err, reason)
	return removed
}

func (s *Scheduler) retired(alarm types.Alarm, removed bool, err error, reason types.Reason) (types.Alarm, bool) {
	if !removed {
		return types.Alarm{}, false
	}
	if err != nil {
		log.WithField("alarm_id", alarm.ID).Errorf("Failed to persist retirement: %v", err)
	}

	s.opts.Metrics.AlarmRetired(reason)
	s.opts.Metrics.LiveAlarms(s.registry.Len())
	log.WithFields(log.Fields{"alarm_id": alarm.ID, "reason": reason.String()}).Info("alarm retired")

	return alarm, true
}

func (s *Scheduler) schedule(entry *Entry) {
	s.wg.Go(func() {
		s.loop(entry)
	})
}

// loop is the single timer of one alarm, so its ticks never overlap.
func (s *Scheduler) loop(entry *Entry) {
	timer := time.NewTimer(s.opts.FirstDelay)
	defer timer.Stop()

	select {
	case <-entry.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		// Done and a tick can be ready together; cancellation wins.
		if entry.Cancelled() {
			return
		}

		s.tick(entry)

		select {
		case <-entry.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(entry *Entry) {
	alarm := entry.Alarm()
	ctx := entry.Context()
	logger := log.WithFields(log.Fields{"alarm_id": alarm.ID, "ticker": alarm.Ticker})

	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			logger.Errorf("Recovered from panic in alarm tick: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.pool.Release(1)

	if ctx.Err() != nil {
		return
	}
	s.opts.Metrics.AlarmTicked()

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	snapshot, err := s.prices.Fetch(fetchCtx, alarm.Ticker)
	cancel()

	// Unset while the fetch was in flight; a cancelled fetch is not a price error.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		s.opts.Metrics.PriceFetchFailed()
		logger.Warnf("price fetch failed, unsetting alarm: %v", err)

		if s.retireEntry(entry, types.ReasonError) {
			s.notify(alarm, PriceErrorText(alarm))
		}
		return
	}

	logger.WithField("price", snapshot.Price).Debug("alarm checked")

	if !alarm.Triggered(snapshot.Price) {
		return
	}

	switch alarm.Repeat {
	case types.FireOnce:
		if s.retireEntry(entry, types.ReasonTrigger) {
			s.notify(alarm, TriggeredText(alarm, snapshot))
		}
	case types.FireRepeatedly:
		if !entry.Cancelled() {
			s.notify(alarm, TriggeredText(alarm, snapshot))
		}
	}
}

func (s *Scheduler) notify(alarm types.Alarm, text string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.NotifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, alarm.OwnerID, text); err != nil {
		log.WithField("alarm_id", alarm.ID).Debugf("notification not delivered: %v", err)
		return
	}
	s.opts.Metrics.AlarmNotified()
}
