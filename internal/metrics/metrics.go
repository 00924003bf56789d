package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// Counter names.
const (
	ConnectionsOpened  = "connections_opened"
	ConnectionsClosed  = "connections_closed"
	RoomsCreated       = "rooms_created"
	RoomsDeleted       = "rooms_deleted"
	MembersJoined      = "members_joined"
	MembersLeft        = "members_left"
	MessagesText       = "messages_text"
	MessagesFile       = "messages_file"
	SignalsDirected    = "signals_directed"
	SignalsRoomWide    = "signals_room_wide"
	CallsJoined        = "calls_joined"
	CallsLeft          = "calls_left"
	FramesSent         = "frames_sent"
	FramesDropped      = "frames_dropped"
	SlowConsumerKicked = "slow_consumer_kicked"

	DropInvalidTarget   = "drop_invalid_target"
	DropMalformed       = "drop_malformed_envelope"
	DropOversized       = "drop_oversized"
	DropNotInRoom       = "drop_not_in_room"
	DropJoinRateLimited = "drop_join_rate_limited"
	DropSessionReplaced = "session_replaced"
)

const (
	namespace   = "huddle"
	eventsName  = namespace + "_events_total"
	eventsLabel = "event"
)

// Metrics counts relay events in a private Prometheus registry, one
// huddle_events_total series per counter name. A nil *Metrics is valid and
// discards everything.
type Metrics struct {
	reg    *prometheus.Registry
	events *prometheus.CounterVec
}

func New() *Metrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Internal event counters.",
	}, []string{eventsLabel})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{reg: reg, events: events}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) Get(name string) uint64 {
	return m.Snapshot()[name]
}

// Snapshot gathers the current value of every counter seen so far.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	out := make(map[string]uint64)
	families, err := m.reg.Gather()
	if err != nil {
		log.Warn().Err(err).Str("module", "metrics").Msg("gather")
	}
	for _, mf := range families {
		if mf.GetName() != eventsName {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == eventsLabel {
					out[lp.GetValue()] = uint64(metric.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}
