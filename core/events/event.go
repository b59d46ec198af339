package events

import "stakepool/core/types"

// Event is a typed fact payload produced by the staking engine.
type Event interface {
	EventType() string
}

// Renderable payloads convert themselves into the wire shape stored in the
// fact log. Payloads that do not implement it are dropped by Log.Emit.
type Renderable interface {
	Event
	Event() *types.Event
}

// Timestamped is implemented by payloads that carry the time they occurred.
type Timestamped interface {
	OccurredAt() uint64
}

// Emitter receives facts as operations commit.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards every event. Engines built without a fact log use it.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Render returns the wire form of evt and the time it occurred, or false when
// evt cannot be rendered. A payload without a timestamp reports zero.
func Render(evt Event) (*types.Event, uint64, bool) {
	renderer, ok := evt.(Renderable)
	if !ok {
		return nil, 0, false
	}
	rendered := renderer.Event()
	if rendered == nil {
		return nil, 0, false
	}
	var ts uint64
	if stamped, ok := evt.(Timestamped); ok {
		ts = stamped.OccurredAt()
	}
	return rendered, ts, true
}
