package tracer

import "errors"

var (
	// ErrNoActiveSpan is returned by FromContext when the context carries no
	// open span.
	ErrNoActiveSpan = errors.New("no active span in context")

	// ErrStreamClosed is returned when a record is persisted to a Stream
	// after Shutdown has been called.
	ErrStreamClosed = errors.New("stream tracer is shut down")

	// ErrRetrievalUnsupported is returned by Tee.Traces when no registered
	// sub-tracer implements retrieval.
	ErrRetrievalUnsupported = errors.New("no registered tracer supports retrieval")
)

// Well-known attribute keys recognized across backends.
const (
	AttrConversationID = "ai.conversation.id"
	AttrToolInput      = "ai.tool.input"
	AttrToolOutput     = "ai.tool.output"
	AttrError          = "error.message"
)
