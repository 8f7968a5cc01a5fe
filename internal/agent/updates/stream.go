package updates

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/skiffworks/skiff/internal/agent/state"
	"github.com/skiffworks/skiff/pkg/sproto"
)

// streamKey identifies one status-update stream.
type streamKey struct {
	frameworkID sproto.FrameworkID
	taskID      sproto.TaskID
}

// stream is the per-(framework, task) state machine: an ordered queue of updates of which at
// most the head is in flight, plus the durable log the queue is replayed from after a crash.
type stream struct {
	key     streamKey
	logPath string
	writer  *state.RecordWriter

	// pending holds unacknowledged updates in production order; the head is the in-flight one
	// once it has been forwarded at least once.
	pending []sproto.StatusUpdate
	// inFlight is true when the head has been forwarded and its acknowledgement is awaited.
	inFlight bool
	// seen records every update UUID accepted on the stream, for duplicate detection.
	seen map[uuid.UUID]bool
	// terminated is set once a terminal update has been accepted; no further updates are
	// expected after it.
	terminated bool
	// retryAttempt is the generation guard for retry timers; a timer carrying a stale attempt
	// number is ignored.
	retryAttempt int
}

func newStream(key streamKey, logPath string) *stream {
	return &stream{
		key:     key,
		logPath: logPath,
		seen:    make(map[uuid.UUID]bool),
	}
}

// checkpointing returns true if the stream has a durable log.
func (s *stream) checkpointing() bool {
	return s.logPath != ""
}

// degrade drops the stream's durable log so it continues with best-effort delivery only.
func (s *stream) degrade() {
	s.close()
	s.logPath = ""
}

// open lazily opens the stream's durable log for appending.
func (s *stream) open() error {
	if s.writer != nil || !s.checkpointing() {
		return nil
	}
	writer, err := state.OpenRecordWriter(s.logPath)
	if err != nil {
		return err
	}
	s.writer = writer
	return nil
}

// accept appends the update to the stream, durably logging it first when checkpointing.
func (s *stream) accept(update sproto.StatusUpdate) error {
	if s.seen[update.UUID] {
		return errDuplicateUpdate
	}
	if s.terminated {
		return errors.Errorf("stream for task %s already has a terminal update", s.key.taskID)
	}

	if s.checkpointing() {
		if err := s.open(); err != nil {
			return logIOError{err: err}
		}
		if err := s.writer.Append(state.RecordStatusUpdate, update); err != nil {
			return logIOError{err: err}
		}
	}

	s.seen[update.UUID] = true
	s.pending = append(s.pending, update)
	if update.Status.State.Terminal() {
		s.terminated = true
	}
	return nil
}

// acknowledge pops the in-flight head if the uuid matches it. It returns true when the stream
// has fully drained: a terminal update was produced and everything is acknowledged.
func (s *stream) acknowledge(id uuid.UUID) (drained bool, err error) {
	if len(s.pending) == 0 || !s.inFlight {
		return false, errors.Errorf("no in-flight update on stream for task %s", s.key.taskID)
	}
	if head := s.pending[0]; head.UUID != id {
		return false, errors.Errorf(
			"acknowledgement %s does not match in-flight update %s for task %s",
			id, head.UUID, s.key.taskID)
	}

	if s.checkpointing() {
		if err := s.open(); err != nil {
			return false, logIOError{err: err}
		}
		if err := s.writer.Append(state.RecordAcknowledgement,
			state.Acknowledgement{UUID: id.String()}); err != nil {
			return false, logIOError{err: err}
		}
	}

	s.pending = s.pending[1:]
	s.inFlight = false
	s.retryAttempt++
	return s.terminated && len(s.pending) == 0, nil
}

// head returns the next update to forward, or nil when nothing is pending.
func (s *stream) head() *sproto.StatusUpdate {
	if len(s.pending) == 0 {
		return nil
	}
	return &s.pending[0]
}

// close releases the stream's durable log.
func (s *stream) close() {
	if s.writer != nil {
		_ = s.writer.Close()
		s.writer = nil
	}
}

var errDuplicateUpdate = errors.New("duplicate status update")

// logIOError marks a durable-log write failure, which the manager resolves per the strict
// policy: fatal, or degrade the stream to best-effort delivery.
type logIOError struct {
	err error
}

func (e logIOError) Error() string {
	return e.err.Error()
}
