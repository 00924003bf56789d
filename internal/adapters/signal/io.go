package signal

import (
	"context"
	"strings"
	"time"

	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump owns the disconnect path: whatever ends the socket, it runs
// OnDisconnect exactly once.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.Orch.OnDisconnect(c.id)
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump ctx done")
			return
		default:
			kind, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			ctl.handleSignal(c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		ctl.Orch.Metrics.Inc(metrics.DropMalformed)
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("dropped frame")
		return
	}

	switch m := msg.(type) {
	case JoinRoom:
		ctl.handleJoin(c, m)
	case LeaveRoom:
		ctl.Orch.Leave(c.id)
	case SendMessage:
		_ = ctl.Orch.SendText(c.id, m.Text)
	case SendFile:
		_ = ctl.Orch.SendFile(c.id, m.File)
	case UserTyping:
		ctl.Orch.Typing(c.id, m.IsTyping)
	case EndpointUpdate:
		ctl.Orch.UpdateEndpoint(c.id, m.Endpoint())
	case DirectedSignal:
		_ = ctl.Orch.RelayDirected(c.id, m.To, m.Kind, m.Body())
	case CallSignal:
		_ = ctl.Orch.RelayRoomWide(c.id, m.Kind, m.Payload)
	case VideoState:
		ctl.Orch.MediaState(c.id, m.IsVideoOn)
	case VoiceJoin:
		_ = ctl.Orch.JoinCall(c.id)
	case VoiceLeave:
		_ = ctl.Orch.LeaveCall(c.id)
	case Ping:
		ctl.Orch.Pong(c.id)
	case WhoAmI:
		ctl.Orch.WhoAmI(c.id)
	default:
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Msgf("unhandled frame %T", msg)
	}
}

func (ctl *SignalWSController) handleJoin(c *WsSignalConn, m JoinRoom) {
	req := orch.JoinRequest{
		RoomID:     domain.RoomID(strings.TrimSpace(m.RoomID)),
		UserID:     domain.UserID(strings.TrimSpace(m.UserID)),
		UserName:   strings.TrimSpace(m.UserName),
		IsCreator:  m.IsCreator,
		EndpointID: m.Endpoint(),
	}
	if req.UserID == "" {
		req.UserID = domain.UserID(c.clientToken)
	}
	if req.UserID == "" {
		req.UserID = domain.UserID(c.id)
	}

	if ctl.limiter != nil && !ctl.limiter.Allow(req.UserID) {
		ctl.Orch.Metrics.Inc(metrics.DropJoinRateLimited)
		log.Warn().Str("module", "signal").Str("conn", string(c.id)).Str("user", string(req.UserID)).Msg("join rate limited")
		ctl.Orch.SendError(c.id, core.CodeRateLimited, "too many join attempts")
		return
	}

	if err := ctl.Orch.Join(c.id, req); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("room", string(req.RoomID)).Msg("join rejected")
	}
}
