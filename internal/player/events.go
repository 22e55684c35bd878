package player

import (
	"log/slog"
	"sync"

	"github.com/lumenplay/engine/internal/demux"
)

// EventName identifies one of the embedding API's named events (spec.md §6).
type EventName string

const (
	EventLoadStart      EventName = "load_start"
	EventLoadEnd        EventName = "load_end"
	EventPlay           EventName = "play"
	EventPause          EventName = "pause"
	EventEnded          EventName = "ended"
	EventTimeUpdate     EventName = "time_update"
	EventDurationChange EventName = "duration_change"
	EventStateChange    EventName = "state_change"
	EventSeeking        EventName = "seeking"
	EventSeeked         EventName = "seeked"
	EventTracksChange   EventName = "tracks_change"
	EventError          EventName = "error"
	EventBuffering      EventName = "buffering"
	EventAudioTrackChange EventName = "audio_track_change"
)

// Event is one emission: Name identifies it, Payload is the typed value
// documented alongside the corresponding EventXxx constant above
// (TimeUpdatePayload for time_update, *Error for error, etc).
type Event struct {
	Name    EventName
	Payload any
}

type TimeUpdatePayload struct{ T float64 }
type DurationChangePayload struct{ D float64 }
type StateChangePayload struct{ From, To State }
type SeekingPayload struct{ T float64 }
type SeekedPayload struct{ T float64 }
type TracksChangePayload struct{ Tracks []demux.Track }
type BufferingPayload struct{ Active bool }
type AudioTrackChangePayload struct{ TrackID uint32 }

// Emitter fans event emissions out to subscribers, each on its own
// buffered channel so one slow observer can't block another (spec.md §9
// "Event emitter": a typed channel per event name, with fan-out; never
// called re-entrantly from inside a state-machine transition).
type Emitter struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newEmitter(log *slog.Logger) *Emitter {
	return &Emitter{log: log, subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer and returns its channel plus an
// unsubscribe func. The channel is buffered (64) so emit never blocks on a
// slow subscriber; if the buffer fills, the oldest unread event is dropped
// to make room rather than stalling playback. A warning is logged only if
// the new event still cannot be queued after that.
func (e *Emitter) Subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	ch := make(chan Event, 64)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Emitter) emit(name EventName, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev := Event{Name: name, Payload: payload}
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				e.log.Warn("dropping event, subscriber channel full", "subscriber", id, "event", name)
			}
		}
	}
}
