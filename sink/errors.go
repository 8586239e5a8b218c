package sink

import "errors"

// Failure classes reported by Task. Callers match them with errors.Is; the
// wrapped error carries the cause.
var (
	// ErrConfiguration: the startup props could not be parsed or validated.
	ErrConfiguration = errors.New("relay: configuration error")
	// ErrConnection: the connect attempt to the chat server failed.
	ErrConnection = errors.New("relay: unable to connect to chat server")
	// ErrChannelJoin: a configured channel could not be joined.
	ErrChannelJoin = errors.New("relay: problem joining channel")
	// ErrMalformedRecord: a record value did not carry channel and message.
	// Never returned from Put; used for logging and metrics.
	ErrMalformedRecord = errors.New("relay: malformed record")
	// ErrShutdownInterrupted: waiting for the connection to end was cut short.
	ErrShutdownInterrupted = errors.New("relay: shutdown interrupted")
	// ErrShutdownIncomplete: the connection was still alive after the wait.
	ErrShutdownIncomplete = errors.New("relay: could not shut down chat connection")
	// ErrNotRunning: Put was called outside the connected states.
	ErrNotRunning = errors.New("relay: task not running")
)
