package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"tick-relay/src/alert"
	"tick-relay/src/helpers"
	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"
	"tick-relay/src/subscription"
	"tick-relay/src/upstream"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// RelayServer
// -----------------------------------------------------------------------------

type RelayServer struct {
	Config      *models.MConfig
	Logger      *logger.Logger
	engine      *gin.Engine
	Registry    *subscription.Registry
	Coordinator *subscription.Coordinator
	Gateway     *upstream.Gateway
	Targets     *alert.TargetService
	Identity    interfaces.IIdentityResolver

	// WebSocket clients (owned by the hub goroutine)
	clients    map[string]*Client
	broadcast  chan models.MTick
	alerts     chan models.MAlertEvent
	register   chan *Client
	unregister chan *Client
	snapshots  chan snapshotRequest

	// Latest tick per channel, served as a snapshot on subscribe.
	// Only the hub goroutine touches this map.
	latestTicks map[string]models.MTick

	ticksDelivered atomic.Int64
	alertsPushed   atomic.Int64
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewRelayServer(cfg *models.MConfig, reg *subscription.Registry, coord *subscription.Coordinator,
	gw *upstream.Gateway, targets *alert.TargetService, identity interfaces.IIdentityResolver,
	log *logger.Logger) *RelayServer {

	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &RelayServer{
		Config:      cfg,
		Logger:      log,
		engine:      gin.Default(),
		Registry:    reg,
		Coordinator: coord,
		Gateway:     gw,
		Targets:     targets,
		Identity:    identity,
		clients:     make(map[string]*Client),
		// Buffered channel to prevent lock/blocking during tick bursts
		broadcast:   make(chan models.MTick, 1024),
		alerts:      make(chan models.MAlertEvent, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		snapshots:   make(chan snapshotRequest, 64),
		latestTicks: make(map[string]models.MTick),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *RelayServer) setupRoutes() {
	// REST API endpoints
	s.engine.PUT("/api/targets/upper", s.putUpperTarget)
	s.engine.PUT("/api/targets/lower", s.putLowerTarget)
	s.engine.DELETE("/api/targets/:code/upper", s.deleteUpperTarget)
	s.engine.DELETE("/api/targets/:code/lower", s.deleteLowerTarget)
	s.engine.GET("/api/targets", s.getTargets)
	s.engine.GET("/api/alerts", s.getAlertHistory)
	s.engine.GET("/api/metrics", s.getMetrics)
	s.engine.GET("/api/health", s.getHealth)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *RelayServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	go s.runHub()

	return s.engine.Run(addr)
}

// -----------------------------------------------------------------------------

// Broadcast queues a tick for fanout to the instrument's subscribers.
func (s *RelayServer) Broadcast(tick models.MTick) {
	s.broadcast <- tick
}

// -----------------------------------------------------------------------------

// PushAlert queues a trigger notification for the owning user's sessions.
// Websocket push is best effort; durable delivery goes through the publisher.
func (s *RelayServer) PushAlert(event models.MAlertEvent) {
	select {
	case s.alerts <- event:
	default:
		s.Logger.Warning("Alert push queue full, dropping websocket notification for %s", event.UserID)
	}
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

type targetRequest struct {
	InstrumentCode string `json:"instrument_code" binding:"required"`
	Price          string `json:"price" binding:"required"`
}

// -----------------------------------------------------------------------------

func (s *RelayServer) putUpperTarget(c *gin.Context) {
	s.putTarget(c, models.DirectionUpper)
}

func (s *RelayServer) putLowerTarget(c *gin.Context) {
	s.putTarget(c, models.DirectionLower)
}

// -----------------------------------------------------------------------------

func (s *RelayServer) putTarget(c *gin.Context, dir models.MDirection) {
	userID, ok := s.authenticate(c)
	if !ok {
		return
	}

	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a decimal number"})
		return
	}

	var target *models.MPriceTarget
	if dir == models.DirectionUpper {
		target, err = s.Targets.SetUpperTarget(userID, req.InstrumentCode, price)
	} else {
		target, err = s.Targets.SetLowerTarget(userID, req.InstrumentCode, price)
	}
	if err != nil {
		s.writeTargetError(c, err)
		return
	}

	c.JSON(http.StatusOK, target)
}

// -----------------------------------------------------------------------------

func (s *RelayServer) deleteUpperTarget(c *gin.Context) {
	s.deleteTarget(c, models.DirectionUpper)
}

func (s *RelayServer) deleteLowerTarget(c *gin.Context) {
	s.deleteTarget(c, models.DirectionLower)
}

// -----------------------------------------------------------------------------

func (s *RelayServer) deleteTarget(c *gin.Context, dir models.MDirection) {
	userID, ok := s.authenticate(c)
	if !ok {
		return
	}

	code := c.Param("code")

	var err error
	if dir == models.DirectionUpper {
		err = s.Targets.ClearUpperTarget(userID, code)
	} else {
		err = s.Targets.ClearLowerTarget(userID, code)
	}
	if err != nil {
		s.writeTargetError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getTargets(c *gin.Context) {
	userID, ok := s.authenticate(c)
	if !ok {
		return
	}

	targets, err := s.Targets.ListTargets(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load targets"})
		return
	}
	if targets == nil {
		targets = []models.MPriceTarget{}
	}

	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getAlertHistory(c *gin.Context) {
	userID, ok := s.authenticate(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &limit)
	}

	events, err := s.Targets.ListHistory(userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alert history"})
		return
	}
	if events == nil {
		events = []models.MAlertEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": events})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions":        s.Registry.SessionCount(),
		"active_channels": len(s.Registry.ActiveChannels()),
		"open_feeds":      len(s.Gateway.OpenFeeds()),
		"ticks_delivered": s.ticksDelivered.Load(),
		"alerts_pushed":   s.alertsPushed.Load(),
	})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.Registry.SessionCount(),
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// authenticate resolves the caller's bearer token. Writes the 401 itself so
// handlers can just bail on !ok.
func (s *RelayServer) authenticate(c *gin.Context) (string, bool) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	userID, err := s.Identity.Resolve(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return "", false
	}
	return userID, true
}

// -----------------------------------------------------------------------------

func (s *RelayServer) writeTargetError(c *gin.Context, err error) {
	var bre *helpers.BusinessRuleError
	if errors.As(err, &bre) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": bre.Code, "message": bre.Message})
		return
	}
	if errors.Is(err, alert.ErrTargetNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
		return
	}

	var ve *helpers.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message})
		return
	}

	s.Logger.Error("Target operation failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
