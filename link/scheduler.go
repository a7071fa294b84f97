package link

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the scheduler's lifecycle position.
type State int32

const (
	// StateIdle: connection live, nothing queued or executing.
	StateIdle State = iota
	// StateExecuting: a command has been issued and awaits completion.
	StateExecuting
	// StateWaitingForTimer: queue drained, repeat timers still armed.
	StateWaitingForTimer
	// StateDisconnecting: a Cancel command is tearing the link down.
	StateDisconnecting
	// StateClosed: terminal; no further commands will issue.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateWaitingForTimer:
		return "waitingForTimer"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks receive command outcomes. All fields are optional.
type Callbacks struct {
	// OnValue receives characteristic data: completed reads and any
	// unsolicited deliveries (notifications, reordered responses).
	OnValue func(c Characteristic, value []byte)
	// OnReadError receives a failed read.
	OnReadError func(c Characteristic, err error)
	// OnWriteResult receives every write outcome, nil err on success.
	OnWriteResult func(c Characteristic, err error)
	// OnRSSI receives a signal strength probe outcome.
	OnRSSI func(rssi int, err error)
	// OnClosed fires exactly once when the scheduler ends: nil err
	// after a Cancel command, the drop reason otherwise.
	OnClosed func(err error)
}

type eventKind int

const (
	evEnqueue eventKind = iota
	evReadDone
	evWriteDone
	evRSSIDone
	evRepeatFire
	evDisconnected
)

type event struct {
	kind  eventKind
	cmds  []Command
	char  Characteristic
	value []byte
	rssi  int
	err   error
	last  bool
}

// Scheduler runs one connection's command queue: strict FIFO, one
// command in flight, each issued only after its predecessor's
// completion (success or error) arrives. A connection drop abandons
// the queue and every armed repeat timer.
type Scheduler struct {
	conn Conn
	cb   Callbacks
	log  *zap.Logger

	events chan event
	done   chan struct{}
	state  atomic.Int32

	// Owned by the loop goroutine.
	queue   []Command
	pending *Command
	timers  int
}

// NewScheduler attaches a command queue to a live connection, registers
// itself as the connection's delegate, and starts dispatching.
func NewScheduler(conn Conn, cb Callbacks, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		conn:   conn,
		cb:     cb,
		log:    log,
		events: make(chan event, 64),
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	conn.SetDelegate(s)
	go s.loop()
	return s
}

// Enqueue appends commands to the queue. Enqueueing is allowed for as
// long as the connection remains open; after close, commands are
// silently dropped.
func (s *Scheduler) Enqueue(cmds ...Command) {
	if len(cmds) == 0 {
		return
	}
	s.post(event{kind: evEnqueue, cmds: cmds})
}

// State reports the current lifecycle position.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Done is closed when the scheduler reaches StateClosed.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// CharacteristicRead implements ConnDelegate.
func (s *Scheduler) CharacteristicRead(c Characteristic, value []byte, err error) {
	s.post(event{kind: evReadDone, char: c, value: value, err: err})
}

// CharacteristicWritten implements ConnDelegate.
func (s *Scheduler) CharacteristicWritten(c Characteristic, err error) {
	s.post(event{kind: evWriteDone, char: c, err: err})
}

// RSSIRead implements ConnDelegate.
func (s *Scheduler) RSSIRead(rssi int, err error) {
	s.post(event{kind: evRSSIDone, rssi: rssi, err: err})
}

// Disconnected implements ConnDelegate.
func (s *Scheduler) Disconnected(err error) {
	s.post(event{kind: evDisconnected, err: err})
}

func (s *Scheduler) post(e event) {
	select {
	case s.events <- e:
	case <-s.done:
	}
}

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Scheduler) loop() {
	for {
		if !s.dispatch() {
			return
		}
		e := <-s.events
		if !s.handle(e) {
			return
		}
	}
}

// dispatch issues queued commands until one is in flight, the queue is
// empty, or a Cancel ends the connection. Returns false when the loop
// should exit.
func (s *Scheduler) dispatch() bool {
	for s.pending == nil && len(s.queue) > 0 {
		cmd := s.queue[0]
		s.queue = s.queue[1:]

		s.log.Debug("Dispatching command", zap.Stringer("kind", cmd.Kind))

		switch cmd.Kind {
		case KindRead:
			s.setState(StateExecuting)
			s.pending = &cmd
			s.conn.ReadCharacteristic(cmd.Char)

		case KindWrite:
			s.setState(StateExecuting)
			var value []byte
			if cmd.Payload != nil {
				value = cmd.Payload(s.conn.Peer())
			}
			s.pending = &cmd
			s.conn.WriteCharacteristic(cmd.Char, value)

		case KindReadRSSI:
			s.setState(StateExecuting)
			s.pending = &cmd
			s.conn.ReadRSSI()

		case KindRepeat:
			// Inner block runs now; extras arrive as timer fires that
			// re-inject it at the queue front.
			s.queue = append(append([]Command{}, cmd.Inner...), s.queue...)
			if cmd.Extra != 0 && cmd.Every > 0 {
				s.timers++
				go s.repeatTimer(cmd)
			}

		case KindCancel:
			s.setState(StateDisconnecting)
			s.queue = nil
			if cmd.OnCancel != nil {
				cmd.OnCancel()
			}
			s.close(nil)
			return false
		}
	}

	if s.pending == nil && len(s.queue) == 0 {
		if s.timers > 0 {
			s.setState(StateWaitingForTimer)
		} else {
			s.setState(StateIdle)
		}
	}
	return true
}

// handle applies one event to the loop state. Returns false when the
// loop should exit.
func (s *Scheduler) handle(e event) bool {
	switch e.kind {
	case evEnqueue:
		s.queue = append(s.queue, e.cmds...)

	case evRepeatFire:
		s.queue = append(append([]Command{}, e.cmds...), s.queue...)
		if e.last {
			s.timers--
		}

	case evReadDone:
		if s.pending != nil && s.pending.Kind == KindRead && s.pending.Char == e.char {
			s.pending = nil
			if e.err != nil {
				if s.cb.OnReadError != nil {
					s.cb.OnReadError(e.char, e.err)
				}
			} else if s.cb.OnValue != nil {
				s.cb.OnValue(e.char, e.value)
			}
			return true
		}
		// Unsolicited delivery: hand the data over without touching
		// the queue.
		if e.err == nil {
			if s.cb.OnValue != nil {
				s.cb.OnValue(e.char, e.value)
			}
		} else {
			s.log.Debug("Ignoring stale read failure", zap.String("characteristic", e.char.UUID), zap.Error(e.err))
		}

	case evWriteDone:
		if s.pending != nil && s.pending.Kind == KindWrite && s.pending.Char == e.char {
			s.pending = nil
			if s.cb.OnWriteResult != nil {
				s.cb.OnWriteResult(e.char, e.err)
			}
			return true
		}
		s.log.Debug("Ignoring stale write completion", zap.String("characteristic", e.char.UUID))

	case evRSSIDone:
		if s.pending != nil && s.pending.Kind == KindReadRSSI {
			s.pending = nil
			if s.cb.OnRSSI != nil {
				s.cb.OnRSSI(e.rssi, e.err)
			}
			return true
		}
		s.log.Debug("Ignoring stale RSSI completion")

	case evDisconnected:
		s.log.Debug("Connection ended, abandoning queue",
			zap.Int("abandoned", len(s.queue)), zap.Error(e.err))
		s.close(e.err)
		return false
	}
	return true
}

// close finishes the scheduler: terminal state, timers released via
// done, single OnClosed delivery. Loop-goroutine only.
func (s *Scheduler) close(err error) {
	s.queue = nil
	s.pending = nil
	s.setState(StateClosed)
	close(s.done)
	if s.cb.OnClosed != nil {
		s.cb.OnClosed(err)
	}
}

// repeatTimer re-posts a Repeat block's inner commands every interval
// until the extra count is spent or the scheduler closes.
func (s *Scheduler) repeatTimer(cmd Command) {
	ticker := time.NewTicker(cmd.Every)
	defer ticker.Stop()

	fired := 0
	for {
		select {
		case <-ticker.C:
			fired++
			last := cmd.Extra >= 0 && fired >= cmd.Extra
			s.post(event{kind: evRepeatFire, cmds: cmd.Inner, last: last})
			if last {
				return
			}
		case <-s.done:
			return
		}
	}
}
