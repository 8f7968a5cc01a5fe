// Package updates implements the status-update manager: durable, at-least-once delivery of
// task status updates to the master with strict per-stream FIFO ordering.
package updates

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/pkg/actor"
	"github.com/skiffworks/skiff/pkg/actor/actors"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// Messages processed by the status-update manager.
type (
	// Update accepts a status update. When LogPath is non-empty the update is appended to that
	// durable log before the manager reports acceptance. The manager responds with an empty
	// Acknowledged on acceptance or an error; duplicates are answered as accepted without
	// being re-queued.
	Update struct {
		Update sproto.StatusUpdate
		// LogPath is the stream's durable log, empty for non-checkpointing frameworks.
		LogPath string
	}

	// Acknowledge pops the matching in-flight update of the stream. The manager responds with
	// an Acknowledged on success and an error otherwise.
	Acknowledge struct {
		FrameworkID sproto.FrameworkID
		TaskID      sproto.TaskID
		UUID        uuid.UUID
	}

	// Acknowledged reports a successful acknowledgement. Drained is true when the stream has
	// delivered a terminal update and holds nothing more, at which point it has been removed.
	Acknowledged struct {
		Drained bool
	}

	// Accepted reports the outcome of an Update that was delivered with tell semantics. It is
	// sent to the sink, which acknowledges the executor on success.
	Accepted struct {
		Update sproto.StatusUpdate
		Err    error
	}

	// AckResult reports the outcome of an Acknowledge that was delivered with tell semantics.
	AckResult struct {
		FrameworkID sproto.FrameworkID
		TaskID      sproto.TaskID
		UUID        uuid.UUID
		Drained     bool
		Err         error
	}

	// RecoveredStream rehydrates one stream from a replayed checkpoint log.
	RecoveredStream struct {
		FrameworkID sproto.FrameworkID
		TaskID      sproto.TaskID
		LogPath     string
		Updates     []sproto.StatusUpdate
		Acked       map[uuid.UUID]bool
	}

	// Recover rehydrates streams from checkpoints. Retransmission of every non-acknowledged
	// head starts once the master connects.
	Recover struct {
		Streams []RecoveredStream
	}

	// Cleanup drops every stream belonging to the framework. Pending updates of a terminating
	// framework are deliberately discarded.
	Cleanup struct {
		FrameworkID sproto.FrameworkID
	}

	// MasterConnected resumes forwarding; every stream's head is (re)transmitted.
	MasterConnected struct{}

	// MasterDisconnected pauses forwarding; accepted updates keep buffering.
	MasterDisconnected struct{}

	// ForwardUpdate is sent to the sink for every (re)transmission of a stream head.
	ForwardUpdate struct {
		Update sproto.StatusUpdate
	}

	// retry re-forwards a stream's head when no acknowledgement arrived in time. Attempt guards
	// against timers of a superseded transmission.
	retry struct {
		Key     streamKey
		Attempt int
	}
)

// Options configures the manager's retry policy and failure handling.
type Options struct {
	// InitialBackoff is the delay before the first retransmission of an update.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth of the retransmission delay.
	MaxBackoff time.Duration
	// Strict makes a durable-log write failure fatal; otherwise the affected stream is
	// degraded to best-effort delivery and the manager continues.
	Strict bool
}

// DefaultOptions returns the default retry policy.
func DefaultOptions() Options {
	return Options{
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     10 * time.Minute,
	}
}

// Manager is the status-update manager actor. The sink receives a ForwardUpdate for every
// transmission; acknowledgements flow back in through Acknowledge messages.
type Manager struct {
	opts Options
	clk  clock.Clock
	sink *actor.Ref

	streams map[streamKey]*stream
	// backoffs tracks the current retransmission delay per stream.
	backoffs map[streamKey]*backoff.ExponentialBackOff
	paused   bool
}

// NewManager returns a manager that forwards updates to the provided sink.
func NewManager(opts Options, clk clock.Clock, sink *actor.Ref) *Manager {
	return &Manager{
		opts:     opts,
		clk:      clk,
		sink:     sink,
		streams:  make(map[streamKey]*stream),
		backoffs: make(map[streamKey]*backoff.ExponentialBackOff),
		paused:   true,
	}
}

// Receive implements the actor.Actor interface.
func (m *Manager) Receive(ctx *actor.Context) error {
	switch msg := ctx.Message().(type) {
	case actor.PreStart:

	case Update:
		return m.receiveUpdate(ctx, msg)

	case Acknowledge:
		return m.receiveAcknowledgement(ctx, msg)

	case Recover:
		for _, recovered := range msg.Streams {
			m.recoverStream(ctx, recovered)
		}

	case Cleanup:
		for key, s := range m.streams {
			if key.frameworkID == msg.FrameworkID {
				ctx.Log().Infof("dropping stream for task %s of terminating framework %s",
					key.taskID, key.frameworkID)
				m.removeStream(key, s)
			}
		}

	case MasterConnected:
		m.paused = false
		// Retransmit every head, including in-flight ones whose transmission may have been
		// lost with the old connection.
		for key, s := range m.streams {
			if s.head() != nil {
				m.transmit(ctx, key)
			}
		}

	case MasterDisconnected:
		m.paused = true

	case retry:
		s, ok := m.streams[msg.Key]
		if !ok || s.retryAttempt != msg.Attempt {
			return nil // The stream is gone or the update was acknowledged; stale timer.
		}
		if m.paused || s.head() == nil {
			return nil
		}
		ctx.Log().Debugf("retransmitting %s", *s.head())
		m.transmit(ctx, msg.Key)

	case actor.PostStop:
		for key, s := range m.streams {
			delete(m.streams, key)
			s.close()
		}

	default:
		return actor.ErrUnexpectedMessage(ctx)
	}
	return nil
}

func (m *Manager) receiveUpdate(ctx *actor.Context, msg Update) error {
	key := streamKey{msg.Update.FrameworkID, msg.Update.Status.TaskID}
	s, ok := m.streams[key]
	if !ok {
		s = newStream(key, msg.LogPath)
		m.streams[key] = s
	}

	err := s.accept(msg.Update)
	if ioErr, ok := err.(logIOError); ok {
		if m.opts.Strict {
			return errors.Wrapf(ioErr.err, "failed to checkpoint %s", msg.Update)
		}
		// Degrade the stream to best-effort delivery and take the update anyway.
		ctx.Log().WithError(ioErr.err).Errorf(
			"durable log failure; degrading stream for task %s to best-effort delivery",
			key.taskID)
		s.degrade()
		err = s.accept(msg.Update)
	}

	switch {
	case err == errDuplicateUpdate:
		// At-least-once upstream: a restarted executor may replay updates already accepted.
		// Report success so it is acknowledged again, but do not re-queue.
		ctx.Log().Debugf("ignoring duplicate %s", msg.Update)
		err = nil
	case err != nil:
		ctx.Log().WithError(err).Errorf("failed to handle %s", msg.Update)
	default:
		ctx.Log().Infof("received %s", msg.Update)
		m.forward(ctx, key)
	}
	if ctx.ExpectingResponse() {
		ctx.RespondCheckError(Acknowledged{}, err)
	} else {
		ctx.Tell(m.sink, Accepted{Update: msg.Update, Err: err})
	}
	return nil
}

func (m *Manager) receiveAcknowledgement(ctx *actor.Context, msg Acknowledge) error {
	respond := func(drained bool, err error) {
		if ctx.ExpectingResponse() {
			ctx.RespondCheckError(Acknowledged{Drained: drained}, err)
		} else {
			ctx.Tell(m.sink, AckResult{
				FrameworkID: msg.FrameworkID,
				TaskID:      msg.TaskID,
				UUID:        msg.UUID,
				Drained:     drained,
				Err:         err,
			})
		}
	}

	key := streamKey{msg.FrameworkID, msg.TaskID}
	s, ok := m.streams[key]
	if !ok {
		respond(false, errors.Errorf("no stream for task %s of framework %s",
			msg.TaskID, msg.FrameworkID))
		return nil
	}

	drained, err := s.acknowledge(msg.UUID)
	if ioErr, ok := err.(logIOError); ok {
		if m.opts.Strict {
			return errors.Wrapf(ioErr.err,
				"failed to checkpoint acknowledgement for task %s", msg.TaskID)
		}
		ctx.Log().WithError(ioErr.err).Errorf(
			"durable log failure; degrading stream for task %s to best-effort delivery",
			key.taskID)
		s.degrade()
		drained, err = s.acknowledge(msg.UUID)
	}
	if err != nil {
		respond(false, err)
		return nil
	}

	m.resetBackoff(key)
	if drained {
		m.removeStream(key, s)
	} else {
		// The acknowledged head may expose the next pending update.
		m.forward(ctx, key)
	}
	respond(drained, nil)
	return nil
}

func (m *Manager) recoverStream(ctx *actor.Context, recovered RecoveredStream) {
	key := streamKey{recovered.FrameworkID, recovered.TaskID}
	s := newStream(key, recovered.LogPath)

	for _, update := range recovered.Updates {
		s.seen[update.UUID] = true
		if update.Status.State.Terminal() {
			s.terminated = true
		}
		if !recovered.Acked[update.UUID] {
			s.pending = append(s.pending, update)
		}
	}

	if s.terminated && len(s.pending) == 0 {
		// Everything was delivered and acknowledged before the crash.
		s.close()
		return
	}
	ctx.Log().Infof("recovered stream for task %s with %d pending updates",
		recovered.TaskID, len(s.pending))
	m.streams[key] = s
}

// forward transmits the stream's head to the sink unless a transmission is already awaiting
// acknowledgement.
func (m *Manager) forward(ctx *actor.Context, key streamKey) {
	s := m.streams[key]
	if s.head() == nil || m.paused || s.inFlight {
		return
	}
	m.transmit(ctx, key)
}

// transmit sends the stream's head to the sink and arms the retransmission timer.
func (m *Manager) transmit(ctx *actor.Context, key streamKey) {
	s := m.streams[key]
	s.inFlight = true
	// Each transmission supersedes the previous one's retry timer.
	s.retryAttempt++
	ctx.Tell(m.sink, ForwardUpdate{Update: *s.head()})

	actors.NotifyAfterOn(ctx, m.clk, m.nextBackoff(key), retry{
		Key:     key,
		Attempt: s.retryAttempt,
	})
}

func (m *Manager) nextBackoff(key streamKey) time.Duration {
	b, ok := m.backoffs[key]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = m.opts.InitialBackoff
		b.MaxInterval = m.opts.MaxBackoff
		b.MaxElapsedTime = 0 // Retry until acknowledged.
		b.RandomizationFactor = 0
		b.Reset()
		m.backoffs[key] = b
	}
	return b.NextBackOff()
}

func (m *Manager) resetBackoff(key streamKey) {
	if b, ok := m.backoffs[key]; ok {
		b.Reset()
	}
}

func (m *Manager) removeStream(key streamKey, s *stream) {
	delete(m.streams, key)
	delete(m.backoffs, key)
	s.close()
}
