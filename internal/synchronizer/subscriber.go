package synchronizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/sse"
)

// Status is the state of the live channel.
type Status string

// Channel states.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Dialer opens a house's event stream.
type Dialer interface {
	OpenStream(ctx context.Context, token string, houseID int) (backend.EventStream, error)
}

// SubscriberStats counts channel activity.
type SubscriberStats struct {
	// Dials is every attempt to open the channel.
	Dials uint64
	// Reconnects is the attempts made by the retry timer.
	Reconnects uint64
	// Drops is every transition into disconnected caused by the channel.
	Drops uint64
	// RetryPending reports whether a retry timer is armed.
	RetryPending bool
}

// subscriberHooks are the callbacks a Subscriber reports to. They are
// never called with the subscriber's lock held.
type subscriberHooks struct {
	onEvent        func(sse.Event)
	onStatus       func(Status)
	onUnauthorized func(error)
}

// Subscriber keeps one live channel open for a house, reopening it after a
// fixed delay whenever it drops.
//
//	disconnected -> connecting -> connected -> disconnected -> connecting ...
//
// At most one channel and one retry timer exist at any time. Every opened
// channel and armed timer belongs to a generation; callbacks from an older
// generation are ignored, so Close is final even when a dial or timer is
// already in flight.
type Subscriber struct {
	dialer     Dialer
	clock      Clock
	retryDelay time.Duration
	logger     Logger
	hooks      subscriberHooks

	mu      sync.Mutex
	houseID int
	token   string
	status  Status
	gen     uint64
	closed  bool
	cancel  context.CancelFunc
	stream  backend.EventStream
	retry   Timer
	stats   SubscriberStats
}

func newSubscriber(dialer Dialer, clock Clock, retryDelay time.Duration, logger Logger, hooks subscriberHooks) *Subscriber {
	return &Subscriber{
		dialer:     dialer,
		clock:      clock,
		retryDelay: retryDelay,
		logger:     logger,
		hooks:      hooks,
		status:     StatusDisconnected,
		closed:     true,
	}
}

// Open connects to houseID's channel, closing any channel already open.
func (s *Subscriber) Open(houseID int, token string) {
	s.mu.Lock()
	s.teardownLocked()
	s.closed = false
	s.houseID = houseID
	s.token = token
	ctx, gen := s.beginDialLocked()
	s.mu.Unlock()

	s.hooks.onStatus(StatusConnecting)
	go s.run(ctx, gen, houseID, token)
}

// Close tears the channel down and cancels any pending retry. No further
// connection attempts are made until Open is called again.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasDisconnected := s.status == StatusDisconnected
	s.teardownLocked()
	s.mu.Unlock()

	if !wasDisconnected {
		s.hooks.onStatus(StatusDisconnected)
	}
}

// Status returns the current channel state.
func (s *Subscriber) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stats returns a copy of the channel counters.
func (s *Subscriber) Stats() SubscriberStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.RetryPending = s.retry != nil
	return stats
}

// teardownLocked closes the stream, cancels the dial and the retry timer,
// and invalidates callbacks from the current generation.
func (s *Subscriber) teardownLocked() {
	s.gen++
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		s.stream.Close() //nolint:errcheck // best effort on teardown
		s.stream = nil
	}
	s.status = StatusDisconnected
}

// beginDialLocked starts a new generation in the connecting state.
func (s *Subscriber) beginDialLocked() (context.Context, uint64) {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.status = StatusConnecting
	s.stats.Dials++
	return ctx, s.gen
}

func (s *Subscriber) run(ctx context.Context, gen uint64, houseID int, token string) {
	stream, err := s.dialer.OpenStream(ctx, token, houseID)
	if err != nil {
		s.dropped(gen, err)
		return
	}

	if !s.connected(gen, stream) {
		stream.Close() //nolint:errcheck // superseded
		return
	}
	s.logger.Info("live channel connected", "house_id", houseID)
	s.hooks.onStatus(StatusConnected)

	for {
		ev, err := stream.Next()
		if err != nil {
			s.dropped(gen, err)
			return
		}
		if !s.current(gen) {
			return
		}
		s.dispatch(ev)
	}
}

func (s *Subscriber) connected(gen uint64, stream backend.EventStream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return false
	}
	s.stream = stream
	s.status = StatusConnected
	return true
}

func (s *Subscriber) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

// dropped moves to disconnected and then arms the retry timer, unless the
// credential was rejected. Listeners see disconnected before the timer can
// fire.
func (s *Subscriber) dropped(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.stream != nil {
		s.stream.Close() //nolint:errcheck // already broken
		s.stream = nil
	}
	s.status = StatusDisconnected
	s.stats.Drops++
	houseID := s.houseID
	s.mu.Unlock()

	if errors.Is(cause, backend.ErrUnauthorized) {
		s.logger.Error("live channel rejected credential", "house_id", houseID, "error", cause)
		s.hooks.onStatus(StatusDisconnected)
		s.hooks.onUnauthorized(cause)
		return
	}

	s.logger.Warn("live channel dropped",
		"house_id", houseID,
		"error", cause,
		"retry_in", s.retryDelay.String(),
	)
	s.hooks.onStatus(StatusDisconnected)

	s.mu.Lock()
	if !s.closed && gen == s.gen && s.retry == nil {
		s.retry = s.clock.AfterFunc(s.retryDelay, func() { s.retryFired(gen) })
	}
	s.mu.Unlock()
}

func (s *Subscriber) retryFired(gen uint64) {
	s.mu.Lock()
	// The timer belongs to the generation that armed it. Any Open, Close
	// or newer drop has moved past it.
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	s.stats.Reconnects++
	houseID, token := s.houseID, s.token
	ctx, newGen := s.beginDialLocked()
	s.mu.Unlock()

	s.logger.Debug("reopening live channel", "house_id", houseID)
	s.hooks.onStatus(StatusConnecting)
	go s.run(ctx, newGen, houseID, token)
}

// dispatch hands an event to the event hook, recovering from panics so a
// bad payload cannot kill the reader.
func (s *Subscriber) dispatch(ev sse.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("live event handler panic recovered", "event", ev.Name, "panic", r)
		}
	}()
	s.hooks.onEvent(ev)
}
