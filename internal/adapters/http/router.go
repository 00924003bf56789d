package http

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName     = "HuddleSession"
	clientTokenKey  = "client_token"
	maxIDCollisions = 16
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable anonymous identity kept
// in the cookie session. It becomes the default user id on join.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, opts signal.Options) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	index := filepath.Join(cfg.StaticPath, "index.html")
	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) { c.File(index) })
	r.GET("/room/:id", func(c *gin.Context) { c.File(index) })

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(o.Metrics,
		metrics.Gauge{Name: "rooms", Help: "Rooms currently held in memory.", Fn: o.Rooms.Len},
		metrics.Gauge{Name: "connections", Help: "Open signaling connections.", Fn: o.Registry.Count},
	)))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &roomHandlers{orch: o, cfg: cfg}
	ctrl := signal.NewSignalWSController(o, opts)

	api := r.Group("/api")
	api.GET("/rooms", h.listRooms)
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms/:id", h.getRoom)
	api.GET("/ice-servers", h.iceServers)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}

type roomHandlers struct {
	orch *orch.Orchestrator
	cfg  *config.Config
}

func (h *roomHandlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms.List()})
}

// createRoom hands out a fresh id. The room itself appears on first join.
func (h *roomHandlers) createRoom(c *gin.Context) {
	var id domain.RoomID
	for range maxIDCollisions {
		id = domain.NewRoomID()
		if !h.orch.Rooms.Exists(id) {
			break
		}
	}
	c.JSON(http.StatusCreated, gin.H{"roomId": id, "roomUrl": h.roomURL(c, id)})
}

func (h *roomHandlers) roomURL(c *gin.Context, id domain.RoomID) string {
	base := strings.TrimRight(h.cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/room/" + string(id)
}

func (h *roomHandlers) getRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if err := domain.ValidateRoomID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, ok := h.orch.Rooms.Snapshot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *roomHandlers) iceServers(c *gin.Context) {
	servers, err := h.cfg.WebRTCICEServers()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ice servers")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ice servers misconfigured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}
