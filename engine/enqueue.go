package engine

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// Message is an inbound payload and the peer it came from.
type Message struct {
	OriginID peer.ID
	Payload  interface{}
}

// MessageStore buffers messages before they are handled by an engine.
type MessageStore interface {
	Put(*Message) bool
	Get() (*Message, bool)
}

// Pattern routes the messages it matches into its store.
type Pattern struct {
	// Match selects the messages of this pattern, typically by payload type.
	Match MatchFunc
	// Map is applied to matched messages before they are stored. A message
	// mapped to false is dropped. Optional.
	Map MapFunc
	// Store receives the matched messages.
	Store MessageStore
}

type MatchFunc func(*Message) bool

type MapFunc func(*Message) (*Message, bool)

// MessageHandler dispatches messages to the store of the first matching
// pattern and notifies the consumer.
type MessageHandler struct {
	log      zerolog.Logger
	notifier Notifier
	patterns []Pattern
}

func NewMessageHandler(log zerolog.Logger, notifier Notifier, patterns ...Pattern) *MessageHandler {
	return &MessageHandler{
		log:      log.With().Str("component", "message_handler").Logger(),
		notifier: notifier,
		patterns: patterns,
	}
}

// Process stores payload for later handling. It returns an
// IncompatibleInputTypeError if no pattern matches the payload, and
// ErrQueueFull if the matching store is full.
func (e *MessageHandler) Process(originID peer.ID, payload interface{}) error {
	msg := &Message{
		OriginID: originID,
		Payload:  payload,
	}

	for _, pattern := range e.patterns {
		if !pattern.Match(msg) {
			continue
		}

		if pattern.Map != nil {
			var keep bool
			msg, keep = pattern.Map(msg)
			if !keep {
				return nil
			}
		}

		if !pattern.Store.Put(msg) {
			e.log.Warn().
				Str("origin_id", originID.String()).
				Str("msg_type", fmt.Sprintf("%T", payload)).
				Msg("failed to store message - discarding")
			return ErrQueueFull
		}
		e.notifier.Notify()
		return nil
	}

	return NewIncompatibleInputTypeError(originID, payload)
}

// GetNotifier returns the channel notified each time a message is stored.
func (e *MessageHandler) GetNotifier() <-chan struct{} {
	return e.notifier.Channel()
}
