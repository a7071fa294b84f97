package link

import "time"

// CommandKind tags the variant held in a Command.
type CommandKind int

const (
	KindRead CommandKind = iota
	KindWrite
	KindReadRSSI
	KindRepeat
	KindCancel
)

func (k CommandKind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindReadRSSI:
		return "readRSSI"
	case KindRepeat:
		return "repeat"
	case KindCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// RepeatForever makes a Repeat block re-run until the connection ends.
const RepeatForever = -1

// Command is one queued link operation. Build commands with Read,
// Write, ReadRSSI, Repeat, and Cancel; the zero value is not valid.
type Command struct {
	Kind CommandKind
	Char Characteristic

	// Payload supplies a Write's bytes and runs at execution time,
	// not enqueue time, so it observes state changed since enqueue.
	Payload func(Peer) []byte

	// Repeat block: Inner runs immediately, then again every Every,
	// Extra additional times (RepeatForever for unbounded).
	Inner []Command
	Every time.Duration
	Extra int

	// OnCancel runs when a Cancel command executes, after the rest of
	// the queue is discarded. Typically it tears down the connection.
	OnCancel func()
}

// Read builds a characteristic read command.
func Read(c Characteristic) Command {
	return Command{Kind: KindRead, Char: c}
}

// Write builds a characteristic write command whose payload is
// produced by provider when the command executes.
func Write(c Characteristic, provider func(Peer) []byte) Command {
	return Command{Kind: KindWrite, Char: c, Payload: provider}
}

// ReadRSSI builds a signal strength probe command.
func ReadRSSI() Command {
	return Command{Kind: KindReadRSSI}
}

// Repeat builds a command that runs inner now and re-injects it at the
// queue front every interval, extra additional times. extra of zero
// runs inner exactly once; RepeatForever repeats until the connection
// ends.
func Repeat(inner []Command, every time.Duration, extra int) Command {
	return Command{Kind: KindRepeat, Inner: inner, Every: every, Extra: extra}
}

// Cancel builds the terminal command: the remaining queue is
// discarded, repeat timers stop, and onCancel runs.
func Cancel(onCancel func()) Command {
	return Command{Kind: KindCancel, OnCancel: onCancel}
}
