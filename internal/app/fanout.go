package app

import (
	"errors"
	"hash/fnv"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/rs/zerolog/log"
)

const fanoutStripes = 64

// Fanout delivers encoded frames to registered connections. Delivery never
// blocks: each frame is offered to the connection's bounded queue and
// failures are reported back in the PublishResult.
type Fanout struct {
	Registry *Registry
	Metrics  *metrics.Metrics

	stripes [fanoutStripes]sync.Mutex
}

func NewFanout(reg *Registry, m *metrics.Metrics) *Fanout {
	return &Fanout{Registry: reg, Metrics: m}
}

func (f *Fanout) stripe(roomID domain.RoomID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(roomID))
	return &f.stripes[h.Sum32()%fanoutStripes]
}

// Broadcast enqueues frame for every connection bound to roomID except
// exclude (empty for none). Broadcasts to the same room are serialized so
// all recipients observe them in the same order.
func (f *Fanout) Broadcast(roomID domain.RoomID, frame core.Frame, exclude core.ConnID) core.PublishResult {
	mu := f.stripe(roomID)
	mu.Lock()
	defer mu.Unlock()

	var res core.PublishResult
	for _, c := range f.Registry.ConnectionsInRoom(roomID) {
		if c.ID == exclude || c.Signal == nil {
			continue
		}
		if err := c.Signal.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, c.ID)
			log.Debug().Err(err).Str("module", "app.fanout").Str("room", string(roomID)).Str("conn", string(c.ID)).Msg("broadcast dropped")
			continue
		}
		res.SendTo++
	}
	f.Metrics.Add(metrics.FramesSent, uint64(res.SendTo))
	f.Metrics.Add(metrics.FramesDropped, uint64(len(res.Dropped)))
	return res
}

// Unicast enqueues frame for a single connection.
func (f *Fanout) Unicast(id core.ConnID, frame core.Frame) error {
	c, ok := f.Registry.Lookup(id)
	if !ok || c.Signal == nil {
		return core.ErrNotFound
	}
	if c.RoomID != "" {
		// Keep unicasts ordered with broadcasts of the same room.
		mu := f.stripe(c.RoomID)
		mu.Lock()
		defer mu.Unlock()
	}
	if err := c.Signal.TrySend(frame); err != nil {
		f.Metrics.Inc(metrics.FramesDropped)
		if errors.Is(err, core.ErrConnClosed) {
			return err
		}
		return core.ErrBackpressure
	}
	f.Metrics.Inc(metrics.FramesSent)
	return nil
}
