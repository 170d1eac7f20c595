package lifecycle

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/nimasrn/whatsapp-simulator/internal/model"
	"github.com/nimasrn/whatsapp-simulator/pkg/logger"
	"github.com/nimasrn/whatsapp-simulator/pkg/prom"
)

const resultBuffer = 256

// Dispatcher delivers one status event to the client callback.
type Dispatcher interface {
	Dispatch(ctx context.Context, e model.StatusEvent) error
	Enabled() bool
}

type Config struct {
	SentDelay    time.Duration
	DeliveredMin time.Duration
	DeliveredMax time.Duration
	ReadMin      time.Duration
	ReadMax      time.Duration
}

func DefaultConfig() Config {
	return Config{
		SentDelay:    500 * time.Millisecond,
		DeliveredMin: time.Second,
		DeliveredMax: 3 * time.Second,
		ReadMin:      2 * time.Second,
		ReadMax:      5 * time.Second,
	}
}

// Result is the outcome of one fired event.
type Result struct {
	Event model.StatusEvent
	Err   error
}

// Handle refers to one armed event. An event waits for the previous event of
// the same message to finish before it is dispatched.
type Handle struct {
	event model.StatusEvent
	timer *time.Timer
	s     *Scheduler
	prev  *Handle
	// journaled events are claimed from the journal before dispatch
	journaled bool

	done     chan struct{}
	doneOnce sync.Once
}

func (h *Handle) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *Handle) Event() model.StatusEvent {
	return h.event
}

// Cancel disarms the event. It reports false when the event already fired or
// was cancelled.
func (h *Handle) Cancel() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if !h.timer.Stop() {
		return false
	}
	h.s.forgetLocked(h, true)
	h.finish()
	return true
}

// Scheduler arms the sent, delivered and read callbacks of simulated messages.
// Timers fire on the scheduler's own context, never on a request context.
type Scheduler struct {
	dispatcher Dispatcher
	journal    Journal
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*Handle
	stopped bool
	results chan Result
}

type Option func(*Scheduler)

// WithJournal persists armed events so Recover can re-arm them after a restart.
func WithJournal(j Journal) Option {
	return func(s *Scheduler) {
		s.journal = j
	}
}

func NewScheduler(d Dispatcher, cfg Config, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		dispatcher: d,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[string]*Handle),
		results:    make(chan Result, resultBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule arms the three callbacks of one message. Sent fires after the
// fixed delay, delivered a random interval after sent, and read a random
// interval after delivered.
func (s *Scheduler) Schedule(phoneNumberID, wamid, recipient string) []*Handle {
	if s.isStopped() {
		logger.Warn("scheduler is stopped, status callbacks are skipped", "wamid", wamid)
		return nil
	}
	if !s.dispatcher.Enabled() {
		logger.Warn("client webhook url is not configured, status callbacks are skipped", "wamid", wamid)
		return nil
	}

	sentAt := s.cfg.SentDelay
	deliveredAt := sentAt + uniform(s.cfg.DeliveredMin, s.cfg.DeliveredMax)
	readAt := deliveredAt + uniform(s.cfg.ReadMin, s.cfg.ReadMax)

	now := time.Now()
	base := model.StatusEvent{PhoneNumberID: phoneNumberID, WAMID: wamid, Recipient: recipient}
	plan := []struct {
		status model.MessageStatus
		after  time.Duration
	}{
		{model.MessageStatusSent, sentAt},
		{model.MessageStatusDelivered, deliveredAt},
		{model.MessageStatusRead, readAt},
	}

	handles := make([]*Handle, 0, len(plan))
	var prev *Handle
	for _, p := range plan {
		e := base
		e.Status = p.status
		e.FireAt = now.Add(p.after)
		if h := s.arm(e, p.after, prev, true); h != nil {
			handles = append(handles, h)
			prev = h
		}
	}
	if len(handles) == 0 {
		return nil
	}

	logger.Debug("lifecycle scheduled", "wamid", wamid, "sent_in", sentAt, "delivered_in", deliveredAt, "read_in", readAt)
	return handles
}

// Recover re-arms journaled events. Overdue events fire immediately, still in
// status order within one message. Events already armed here are skipped.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	if s.journal == nil {
		return 0, nil
	}
	events, err := s.journal.Load(ctx)
	if err != nil {
		return 0, err
	}

	byMessage := make(map[string][]model.StatusEvent)
	for _, e := range events {
		byMessage[e.WAMID] = append(byMessage[e.WAMID], e)
	}

	armed := 0
	now := time.Now()
	for _, group := range byMessage {
		slices.SortFunc(group, compareEvents)
		var prev *Handle
		for _, e := range group {
			if h := s.arm(e, max(0, e.FireAt.Sub(now)), prev, false); h != nil {
				armed++
				prev = h
			}
		}
	}
	logger.Info("lifecycle events recovered", "count", armed)
	return armed, nil
}

// compareEvents orders events of one message by lifecycle step, then fire time.
func compareEvents(a, b model.StatusEvent) int {
	if d := statusRank(a.Status) - statusRank(b.Status); d != 0 {
		return d
	}
	return a.FireAt.Compare(b.FireAt)
}

func statusRank(st model.MessageStatus) int {
	switch st {
	case model.MessageStatusSent:
		return 1
	case model.MessageStatusDelivered:
		return 2
	case model.MessageStatusRead:
		return 3
	}
	return 0
}

// CancelMessage disarms every pending event of one message.
func (s *Scheduler) CancelMessage(wamid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, h := range s.pending {
		if h.event.WAMID != wamid {
			continue
		}
		if h.timer.Stop() {
			s.forgetLocked(h, true)
			h.finish()
			n++
		}
	}
	return n
}

// Pending reports how many events are armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Results carries the outcome of every fired event. Results are dropped when
// nobody drains the channel.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Stop disarms all timers. Journaled events are kept for Recover.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, h := range s.pending {
		if h.timer.Stop() {
			s.forgetLocked(h, false)
			h.finish()
		}
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Scheduler) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) arm(e model.StatusEvent, after time.Duration, prev *Handle, persist bool) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	if _, ok := s.pending[e.Key()]; ok {
		return nil
	}

	// recovered events are journaled by whoever scheduled them
	journaled := !persist && s.journal != nil
	if persist && s.journal != nil {
		if err := s.journal.Save(s.ctx, e); err != nil {
			logger.Warn("failed to journal lifecycle event", "wamid", e.WAMID, "status", e.Status, "error", err)
		} else {
			journaled = true
		}
	}

	h := &Handle{event: e, s: s, prev: prev, journaled: journaled, done: make(chan struct{})}
	h.timer = time.AfterFunc(after, func() { s.fire(h) })
	s.pending[e.Key()] = h
	prom.AddPendingEvents(string(e.Status), 1)
	return h
}

func (s *Scheduler) fire(h *Handle) {
	defer h.finish()

	s.mu.Lock()
	s.forgetLocked(h, false)
	s.mu.Unlock()

	if h.prev != nil {
		select {
		case <-h.prev.done:
		case <-s.ctx.Done():
		}
	}
	if s.ctx.Err() != nil {
		return
	}
	if h.journaled && !s.claim(h.event) {
		return
	}

	err := s.dispatcher.Dispatch(s.ctx, h.event)
	if err != nil {
		logger.Error("status callback failed", "wamid", h.event.WAMID, "status", h.event.Status, "error", err)
	}

	select {
	case s.results <- Result{Event: h.event, Err: err}:
	default:
	}
}

// claim removes the journal entry of e and reports whether this scheduler may
// dispatch it. When another instance sharing the journal removed it first,
// that instance owns the event. A journal error still dispatches.
func (s *Scheduler) claim(e model.StatusEvent) bool {
	removed, err := s.journal.Delete(context.WithoutCancel(s.ctx), e)
	if err != nil {
		logger.Warn("failed to claim journaled lifecycle event", "wamid", e.WAMID, "status", e.Status, "error", err)
		return true
	}
	if !removed {
		logger.Debug("lifecycle event owned by another instance", "wamid", e.WAMID, "status", e.Status)
	}
	return removed
}

func (s *Scheduler) forgetLocked(h *Handle, dropJournal bool) {
	if cur, ok := s.pending[h.event.Key()]; !ok || cur != h {
		return
	}
	delete(s.pending, h.event.Key())
	prom.AddPendingEvents(string(h.event.Status), -1)

	if dropJournal && s.journal != nil {
		if _, err := s.journal.Delete(context.WithoutCancel(s.ctx), h.event); err != nil {
			logger.Warn("failed to drop journaled lifecycle event", "wamid", h.event.WAMID, "status", h.event.Status, "error", err)
		}
	}
}

// uniform draws a duration in [lo, hi] with millisecond granularity.
func uniform(lo, hi time.Duration) time.Duration {
	span := (hi - lo).Milliseconds()
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(rand.Int64N(span+1))*time.Millisecond
}
