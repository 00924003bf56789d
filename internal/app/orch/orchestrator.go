package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Limits are the per-message bounds enforced at the relay boundary.
type Limits struct {
	MaxTextLength int
	MaxFileSize   int64
	PeerDiscovery bool
}

// DefaultMaxFileSize is 10 MiB.
const DefaultMaxFileSize int64 = 10 << 20

func DefaultLimits() Limits {
	return Limits{
		MaxTextLength: 4096,
		MaxFileSize:   DefaultMaxFileSize,
		PeerDiscovery: true,
	}
}

// Orchestrator coordinates room membership, chat and signaling. Every
// mutation of a room happens inside that room's critical section.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *core.RoomStore
	Fanout   *app.Fanout
	Policy   app.Policy
	Limits   Limits
	Metrics  *metrics.Metrics
}

func New(reg *app.Registry, rooms *core.RoomStore, policy app.Policy, limits Limits, m *metrics.Metrics) *Orchestrator {
	rooms.OnCreate = func(domain.RoomID) { m.Inc(metrics.RoomsCreated) }
	rooms.OnDelete = func(domain.RoomID) { m.Inc(metrics.RoomsDeleted) }
	return &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Fanout:   app.NewFanout(reg, m),
		Policy:   policy,
		Limits:   limits,
		Metrics:  m,
	}
}

// Connect registers a freshly opened transport.
func (o *Orchestrator) Connect(id core.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Register(id, sig, cancel)
	o.Metrics.Inc(metrics.ConnectionsOpened)
}

// OnDisconnect runs the leave path and forgets the connection. Safe to call
// more than once.
func (o *Orchestrator) OnDisconnect(id core.ConnID) {
	o.leave(id)
	if _, ok := o.Registry.Unregister(id); ok {
		o.Metrics.Inc(metrics.ConnectionsClosed)
		log.Info().Str("module", "orch").Str("conn", string(id)).Msg("disconnected")
	}
}

// Kick closes the transport of a connection; the adapter then reports the
// disconnect.
func (o *Orchestrator) Kick(id core.ConnID) {
	o.Registry.Cancel(id)
}

// WhoAmI reports the identity the registry holds for a connection.
func (o *Orchestrator) WhoAmI(id core.ConnID) {
	c, ok := o.Registry.Lookup(id)
	if !ok {
		return
	}
	o.send(id, core.WhoAmI{ConnID: id, UserID: c.UserID, UserName: c.Name, RoomID: c.RoomID})
}

func (o *Orchestrator) Pong(id core.ConnID) {
	o.send(id, core.Pong{})
}

// SendError reports a rejected request to the caller only.
func (o *Orchestrator) SendError(id core.ConnID, code, msg string) {
	o.send(id, core.ErrorEvent{Code: code, Message: msg})
}

func (o *Orchestrator) send(id core.ConnID, ev core.Event) {
	o.applyPolicy("", o.unicast(id, ev))
}

// unicast delivers ev to one connection and reports an overflow in the
// result instead of acting on it.
func (o *Orchestrator) unicast(id core.ConnID, ev core.Event) core.PublishResult {
	frame, err := core.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("encode event")
		return core.PublishResult{}
	}
	if err := o.Fanout.Unicast(id, frame); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(id)).Str("type", string(ev.Kind())).Msg("unicast failed")
		if isClosed(err) {
			return core.PublishResult{}
		}
		return core.PublishResult{Dropped: []core.ConnID{id}}
	}
	return core.PublishResult{SendTo: 1}
}

func (o *Orchestrator) broadcast(roomID domain.RoomID, ev core.Event, exclude core.ConnID) core.PublishResult {
	frame, err := core.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).Msg("encode event")
		return core.PublishResult{}
	}
	return o.Fanout.Broadcast(roomID, frame, exclude)
}

// applyPolicy acts on recipients whose queues overflowed. Callers collect
// results inside the room critical section and apply them after it.
func (o *Orchestrator) applyPolicy(roomID domain.RoomID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(roomID, slow) {
		case app.KickMember:
			if o.Registry.Cancel(slow) {
				o.Metrics.Inc(metrics.SlowConsumerKicked)
				log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(slow)).Msg("kicked slow consumer")
			}
		case app.DropFrame, app.NoAction:
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, core.ErrConnClosed) || errors.Is(err, core.ErrNotFound)
}
