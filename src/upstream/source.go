package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tick-relay/src/helpers"
	"tick-relay/src/interfaces"
	"tick-relay/src/logger"
	"tick-relay/src/models"
	"tick-relay/src/protocol"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// WebsocketSource holds the one persistent upstream connection. Open/close
// commands go out as JSON control frames; incoming text frames are decoded
// and pushed to the output channel in arrival order by a single read loop,
// which preserves per-instrument tick ordering. Heartbeats are echoed back
// verbatim to keep the connection alive.
//
// The connection only exists while the exchange is open. Outside trading
// hours the source idles and rechecks periodically; a connection that is
// still up when the market closes is dropped by the watcher.
// -----------------------------------------------------------------------------

type WebsocketSource struct {
	Config    models.MUpstreamConfig
	Logger    *logger.Logger
	Decoder   *protocol.Decoder
	Scheduler interfaces.IMarketSchedule

	mu         sync.Mutex // lifecycle
	writeMu    sync.Mutex // serializes frames on the connection
	connMu     sync.RWMutex
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
	ctx        context.Context
	outputChan chan<- models.MTick
	isRunning  atomic.Bool

	onConnect func() // invoked after every (re)connect, before reading
}

// -----------------------------------------------------------------------------

type feedCommand struct {
	Command        string `json:"command"` // "open" or "close"
	InstrumentCode string `json:"instrument_code"`
}

// -----------------------------------------------------------------------------

func NewWebsocketSource(cfg models.MUpstreamConfig, dec *protocol.Decoder, sched interfaces.IMarketSchedule, log *logger.Logger) *WebsocketSource {
	return &WebsocketSource{
		Config:    cfg,
		Logger:    log,
		Decoder:   dec,
		Scheduler: sched,
	}
}

// -----------------------------------------------------------------------------

func (s *WebsocketSource) Name() string {
	return "upstream-feed"
}

// -----------------------------------------------------------------------------

// SetConnectHook registers the callback run after every successful connect.
// Wired by main to invalidate and reconcile the gateway, so feeds with
// subscribers are re-opened on the fresh connection.
func (s *WebsocketSource) SetConnectHook(fn func()) {
	s.onConnect = fn
}

// -----------------------------------------------------------------------------

// Start begins the receive loop
func (s *WebsocketSource) Start(parentCtx context.Context, outputChan chan<- models.MTick, wg *sync.WaitGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning.Load() {
		return fmt.Errorf("source %s is already running", s.Name())
	}

	// Derive a context so we can stop just this source via Stop()
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel
	s.ctx = ctx
	s.outputChan = outputChan
	s.isRunning.Store(true)

	wg.Add(1)
	go s.runLoop(ctx, outputChan, wg)
	s.Logger.Info("Started WebsocketSource: %s", s.Config.URL)
	return nil
}

// -----------------------------------------------------------------------------

// Stop signals the run loop to exit
func (s *WebsocketSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning.Load() {
		return fmt.Errorf("source %s is not running", s.Name())
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.isRunning.Store(false)
	s.Logger.Info("Stopped WebsocketSource")
	return nil
}

// -----------------------------------------------------------------------------

// OpenFeed issues a "start receiving" control frame for one instrument.
func (s *WebsocketSource) OpenFeed(instrumentCode string) error {
	return s.writeCommand(feedCommand{Command: "open", InstrumentCode: instrumentCode})
}

// -----------------------------------------------------------------------------

// CloseFeed issues a "stop receiving" control frame for one instrument.
func (s *WebsocketSource) CloseFeed(instrumentCode string) error {
	return s.writeCommand(feedCommand{Command: "close", InstrumentCode: instrumentCode})
}

// -----------------------------------------------------------------------------

func (s *WebsocketSource) writeCommand(cmd feedCommand) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return &helpers.UpstreamError{TickRelayError: helpers.TickRelayError{
			Message: fmt.Sprintf("cannot deliver %s command for %s: not connected", cmd.Command, cmd.InstrumentCode),
		}}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(cmd); err != nil {
		return &helpers.UpstreamError{TickRelayError: helpers.TickRelayError{
			Message: fmt.Sprintf("failed to deliver %s command for %s", cmd.Command, cmd.InstrumentCode),
			Cause:   err,
		}}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *WebsocketSource) echo(frame string) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		s.Logger.Warning("Heartbeat echo failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

// runLoop connects, reads until failure, and reconnects, honoring market
// hours and context cancellation.
func (s *WebsocketSource) runLoop(ctx context.Context, outputChan chan<- models.MTick, wg *sync.WaitGroup) {
	defer wg.Done()

	idleRecheck := time.Duration(s.Config.IdleRecheckSeconds) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.Scheduler.MarketOpen() {
			s.Logger.Info("Market closed. Holding upstream connection down for %v.", idleRecheck)
			select {
			case <-time.After(idleRecheck):
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := s.connect(ctx); err != nil {
			s.Logger.Error("Upstream connect failed: %v", err)
			select {
			case <-time.After(idleRecheck):
			case <-ctx.Done():
				return
			}
			continue
		}

		if s.onConnect != nil {
			s.onConnect()
		}

		// The watcher tears the connection down on market close or context
		// cancellation, which unblocks the read loop. runLoop waits for it
		// before reconnecting so it can never close a successor connection.
		watchCtx, stopWatch := context.WithCancel(ctx)
		watchDone := make(chan struct{})
		go func() {
			defer close(watchDone)
			s.watchMarketClose(watchCtx, idleRecheck)
		}()

		s.readLoop(ctx, outputChan)
		stopWatch()
		<-watchDone
		s.dropConn()

		select {
		case <-ctx.Done():
			return
		default:
			if s.Scheduler.MarketOpen() {
				s.Logger.Warning("Upstream connection lost. Reconnecting...")
			}
		}
	}
}

// -----------------------------------------------------------------------------

// watchMarketClose rechecks trading hours while connected and closes the
// connection once the exchange is no longer open.
func (s *WebsocketSource) watchMarketClose(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Also fires on shutdown; dropping here unblocks the read loop.
			s.dropConn()
			return
		case <-ticker.C:
			if !s.Scheduler.MarketOpen() {
				s.Logger.Info("Market closed. Dropping upstream connection.")
				s.dropConn()
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (s *WebsocketSource) connect(ctx context.Context) error {
	baseDelay := time.Duration(s.Config.ReconnectBaseDelay) * time.Second

	return helpers.RetryWithBackoff("upstream dial", s.Config.ReconnectRetries, baseDelay, s.Logger, func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.Config.URL, nil)
		if err != nil {
			return err
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		s.Logger.Info("Connected to upstream feed at %s", s.Config.URL)
		return nil
	})
}

// -----------------------------------------------------------------------------

func (s *WebsocketSource) dropConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// -----------------------------------------------------------------------------

// readLoop drains frames until the connection fails or the context ends.
// Errors are isolated per frame: a malformed frame is discarded by the
// decoder and never aborts processing of later frames.
func (s *WebsocketSource) readLoop(ctx context.Context, outputChan chan<- models.MTick) {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && s.Scheduler.MarketOpen() {
				s.Logger.Warning("Upstream read error: %v", err)
			}
			return
		}

		result := s.Decoder.Decode(string(message))
		switch result.Kind {
		case protocol.KindHeartbeat:
			s.echo(result.Echo)
		case protocol.KindTick:
			select {
			case outputChan <- result.Tick:
			case <-ctx.Done():
				return
			}
		case protocol.KindDiscard:
			// Protocol noise, already logged at debug level
		}
	}
}
