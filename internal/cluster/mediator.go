package cluster

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/model"
)

// EventType names the metadata events fanned out on the cluster topic.
type EventType string

const (
	EventLocationCreated EventType = "location-created"
	EventMetricInfoPut   EventType = "metric-info-put"
	EventMetricDropped   EventType = "metric-dropped"
)

// Event is one metadata broadcast. Creates are idempotent: the payload is a
// pure function of its key and the membership at creation time, so replays
// and duplicates converge.
type Event struct {
	Type      EventType
	Db        string
	Namespace string
	Metric    string
	Location  *model.Location
	Info      *model.MetricInfo
}

// Mediator is the pub/sub topic the metadata layer publishes on. In a single
// process it is channel fan-out; a gossip transport can stand behind the same
// surface.
type Mediator struct {
	mu     sync.RWMutex
	subs   []chan Event
	logger zerolog.Logger
}

const subscriberBuffer = 64

func NewMediator(logger zerolog.Logger) *Mediator {
	return &Mediator{logger: logger.With().Str("component", "mediator").Logger()}
}

// Subscribe registers a new subscriber channel.
func (m *Mediator) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Publish fans the event out to every subscriber. A subscriber that cannot
// keep up drops the event; metadata converges anyway on the next publish or
// store scan.
func (m *Mediator) Publish(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn().Str("type", string(ev.Type)).Msg("Dropping metadata event for slow subscriber")
		}
	}
}
