package domain

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EventKind names a registry change event on the wire.
type EventKind string

const (
	KindAdded     EventKind = "tweet:added"
	KindUpdated   EventKind = "tweet:updated"
	KindRemoved   EventKind = "tweet:removed"
	KindSeen      EventKind = "tweet:seen"
	KindReorder   EventKind = "tweet:reorder"
	KindConnected EventKind = "connected"
	KindError     EventKind = "error"
)

// Event is one registry change notification. The concrete types below form
// the full set; consumers dispatch with a type switch.
type Event interface {
	Kind() EventKind
}

// AddedEvent announces a newly created tweet record.
type AddedEvent struct {
	Tweet TweetView
}

// UpdatedEvent announces a metadata change (new poster merged) on an
// existing tweet.
type UpdatedEvent struct {
	Tweet TweetView
}

// RemovedEvent announces deletion of a tweet.
type RemovedEvent struct {
	ID string
}

// SeenEvent announces a seen-flag change.
type SeenEvent struct {
	ID   string
	Seen bool
}

// ReorderEvent carries the full index order after it changed without an
// add or remove. Only the polling-diff transport synthesizes it.
type ReorderEvent struct {
	IDs []string
}

// ConnectedEvent acknowledges a freshly opened stream.
type ConnectedEvent struct {
	Message string
}

// ErrorEvent reports a stream-internal failure to a connected client.
type ErrorEvent struct {
	Message string
}

func (AddedEvent) Kind() EventKind     { return KindAdded }
func (UpdatedEvent) Kind() EventKind   { return KindUpdated }
func (RemovedEvent) Kind() EventKind   { return KindRemoved }
func (SeenEvent) Kind() EventKind      { return KindSeen }
func (ReorderEvent) Kind() EventKind   { return KindReorder }
func (ConnectedEvent) Kind() EventKind { return KindConnected }
func (ErrorEvent) Kind() EventKind     { return KindError }

// eventEnvelope is the JSON wire shape shared by every transport.
type eventEnvelope struct {
	Kind    EventKind  `json:"kind"`
	Tweet   *TweetView `json:"tweet,omitempty"`
	ID      string     `json:"id,omitempty"`
	Seen    *bool      `json:"seen,omitempty"`
	IDs     []string   `json:"tweetIds,omitempty"`
	Message string     `json:"message,omitempty"`
}

// EncodeEvent serializes an event to its wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	env := eventEnvelope{Kind: ev.Kind()}
	switch e := ev.(type) {
	case AddedEvent:
		env.Tweet = &e.Tweet
	case UpdatedEvent:
		env.Tweet = &e.Tweet
	case RemovedEvent:
		env.ID = e.ID
	case SeenEvent:
		env.ID = e.ID
		env.Seen = &e.Seen
	case ReorderEvent:
		env.IDs = e.IDs
	case ConnectedEvent:
		env.Message = e.Message
	case ErrorEvent:
		env.Message = e.Message
	default:
		return nil, fmt.Errorf("encode event: unknown type %T", ev)
	}
	return json.Marshal(env)
}

// DecodeEvent parses an event from its wire form.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch env.Kind {
	case KindAdded:
		if env.Tweet == nil {
			return nil, fmt.Errorf("decode event: %s without tweet payload", env.Kind)
		}
		return AddedEvent{Tweet: *env.Tweet}, nil
	case KindUpdated:
		if env.Tweet == nil {
			return nil, fmt.Errorf("decode event: %s without tweet payload", env.Kind)
		}
		return UpdatedEvent{Tweet: *env.Tweet}, nil
	case KindRemoved:
		return RemovedEvent{ID: env.ID}, nil
	case KindSeen:
		seen := env.Seen != nil && *env.Seen
		return SeenEvent{ID: env.ID, Seen: seen}, nil
	case KindReorder:
		return ReorderEvent{IDs: env.IDs}, nil
	case KindConnected:
		return ConnectedEvent{Message: env.Message}, nil
	case KindError:
		return ErrorEvent{Message: env.Message}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown kind %q", env.Kind)
	}
}
