package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"tick-relay/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// runHub is the main hub loop. All client map mutation happens here, so tick
// delivery order per instrument is the order ticks enter the broadcast queue.
func (s *RelayServer) runHub() {
	for {
		select {
		case client := <-s.register:
			s.clients[client.sessionID] = client

		case client := <-s.unregister:
			if _, ok := s.clients[client.sessionID]; ok {
				delete(s.clients, client.sessionID)
				close(client.send)
			}
			// A dropped session is a bulk unsubscribe
			s.Coordinator.Disconnect(client.sessionID)

		case tick := <-s.broadcast:
			s.fanout(tick)

		case req := <-s.snapshots:
			s.sendSnapshot(req)

		case event := <-s.alerts:
			s.pushAlert(event)
		}
	}
}

// -----------------------------------------------------------------------------

// fanout delivers one tick to every session subscribed to its channel and
// refreshes the snapshot cache.
func (s *RelayServer) fanout(tick models.MTick) {
	channelKey := s.channelKey(tick.InstrumentCode)
	s.latestTicks[channelKey] = tick

	sessions := s.Registry.SubscriberSessions(channelKey)
	if len(sessions) == 0 {
		return
	}

	frame := models.MOutboundTick{
		Type:        "TICK",
		Destination: channelKey,
		Tick:        tick,
	}

	for _, sessionID := range sessions {
		client, ok := s.clients[sessionID]
		if !ok {
			continue
		}
		select {
		case client.send <- frame:
			s.ticksDelivered.Add(1)
		default:
			// Client too slow, disconnect to prevent the hub blocking
			delete(s.clients, sessionID)
			close(client.send)
			s.Coordinator.Disconnect(sessionID)
		}
	}
}

// -----------------------------------------------------------------------------

// pushAlert notifies every connected session of the owning user.
func (s *RelayServer) pushAlert(event models.MAlertEvent) {
	frame := models.MOutboundAlert{
		Type:  "ALERT",
		Alert: event,
	}

	for sessionID, client := range s.clients {
		if client.userID != event.UserID {
			continue
		}
		select {
		case client.send <- frame:
			s.alertsPushed.Add(1)
		default:
			delete(s.clients, sessionID)
			close(client.send)
			s.Coordinator.Disconnect(sessionID)
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *RelayServer) handleWebSocket(c *gin.Context) {
	userID, err := s.Identity.Resolve(c.Query("token"))
	if err != nil {
		s.Logger.Info("Rejected websocket from %s: %v", c.ClientIP(), err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:       s,
		conn:      conn,
		sessionID: uuid.NewString(),
		userID:    userID,
		// Buffered channel to prevent blocking the hub loop
		send: make(chan interface{}, 256),
	}

	s.Logger.Info("Session %s connected (user %s)", client.sessionID, userID)
	s.register <- client

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

func (s *RelayServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch cmd.Command {
	case "subscribe":
		if cmd.ID == "" || !s.validDestination(cmd.Destination) {
			s.Logger.Debug("Ignoring malformed subscribe from %s", client.sessionID)
			return
		}
		s.Coordinator.Subscribe(client.sessionID, cmd.ID, cmd.Destination)
		s.requestSnapshot(client.sessionID, cmd.Destination)

	case "unsubscribe":
		if cmd.ID == "" {
			return
		}
		s.Coordinator.Unsubscribe(client.sessionID, cmd.ID)

	default:
		s.Logger.Debug("Unknown command %q from %s", cmd.Command, client.sessionID)
	}
}

// -----------------------------------------------------------------------------

type snapshotRequest struct {
	sessionID  string
	channelKey string
}

// requestSnapshot queues a snapshot replay for the hub goroutine. Sends on a
// client's channel must stay inside the hub loop, which also owns the close
// when a slow client is dropped.
func (s *RelayServer) requestSnapshot(sessionID, channelKey string) {
	select {
	case s.snapshots <- snapshotRequest{sessionID: sessionID, channelKey: channelKey}:
	default:
		// Queue full; the live stream will catch the subscriber up
	}
}

// sendSnapshot replays the channel's most recent tick so a new subscriber
// does not render an empty view until the next trade. Hub goroutine only.
func (s *RelayServer) sendSnapshot(req snapshotRequest) {
	client, ok := s.clients[req.sessionID]
	if !ok {
		// Session dropped between subscribe and replay
		return
	}

	tick, ok := s.latestTicks[req.channelKey]
	if !ok {
		return
	}

	frame := models.MOutboundTick{
		Type:        "SNAPSHOT",
		Destination: req.channelKey,
		Tick:        tick,
	}

	select {
	case client.send <- frame:
	default:
		// Buffer full; the live stream will catch the client up
	}
}

// -----------------------------------------------------------------------------

func (s *RelayServer) channelKey(instrumentCode string) string {
	return s.Config.ChannelPrefix + "." + instrumentCode
}

// -----------------------------------------------------------------------------

func (s *RelayServer) validDestination(destination string) bool {
	rest, found := strings.CutPrefix(destination, s.Config.ChannelPrefix+".")
	return found && rest != ""
}
