package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/events"
)

var logger = log.New(os.Stdout, "[UI-Server] ", log.LstdFlags|log.Lshortfile)

// Config for the UI stream server.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ClientBuffer int           `mapstructure:"client_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	History      int           `mapstructure:"history"`
	// AllowedOrigins lists websocket origins besides the server's own host.
	// "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultConfig returns the UI defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Addr:         ":8080",
		ClientBuffer: 16,
		WriteTimeout: 5 * time.Second,
		History:      120,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("ui address is required")
	}
	if c.ClientBuffer <= 0 {
		return fmt.Errorf("client buffer must be positive, got %d", c.ClientBuffer)
	}
	if c.History < 0 {
		return fmt.Errorf("negative history size %d", c.History)
	}
	return nil
}

// Server streams bus events to browser clients.
type Server struct {
	config   Config
	bus      *events.Bus
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
	latest   atomic.Pointer[common.Event]
	history  *history
	clients  atomic.Int64
	srv      *http.Server
	listener net.Listener
	tracker  *events.Subscription
	mu       sync.Mutex
	stopped  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer builds the server. A nil gatherer disables /metrics.
func NewServer(config Config, bus *events.Bus, gatherer prometheus.Gatherer) *Server {
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = DefaultConfig().ClientBuffer
	}
	s := &Server{
		config:   config,
		bus:      bus,
		gatherer: gatherer,
		history:  newHistory(max(config.History, 0)),
		stopChan: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.srv = &http.Server{
		Addr:              config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleStream)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins tracking the latest event and serving on Addr.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.listener = ln

	s.tracker = s.bus.Subscribe(s.config.ClientBuffer)
	s.wg.Add(1)
	go s.trackLatest(s.tracker)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("UI server exited: %v", err)
		}
	}()

	logger.Printf("UI server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop closes websocket streams and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		logger.Println("Stopping UI server...")
		s.mu.Lock()
		s.stopped = true
		close(s.stopChan)
		s.mu.Unlock()
		if s.tracker != nil {
			s.tracker.Close()
		}
		if shutdownErr := s.srv.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
			err = shutdownErr
		}
		s.wg.Wait()
		logger.Println("UI server stopped")
	})
	return err
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int { return int(s.clients.Load()) }

// Latest returns the most recent event, if any.
func (s *Server) Latest() (common.Event, bool) {
	ev := s.latest.Load()
	if ev == nil {
		return common.Event{}, false
	}
	return *ev, true
}

// enter registers a stream handler unless the server is stopping.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) trackLatest(sub *events.Subscription) {
	defer s.wg.Done()
	for ev := range sub.C() {
		s.latest.Store(&ev)
		s.history.add(ev)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ev); err != nil {
		logger.Printf("Failed to write latest reading: %v", err)
	}
}

// History returns up to n recent events, oldest first; n <= 0 returns
// everything kept.
func (s *Server) History(n int) []common.Event {
	return s.history.last(n)
}

// handleHistory serves the recent readings a chart needs to fill its
// window before switching to the stream.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.History(limit)); err != nil {
		logger.Printf("Failed to write history: %v", err)
	}
}

// handleStream forwards every bus event to one websocket client. The
// client has its own bounded subscription; when it falls behind, the bus
// drops its events instead of blocking the pipeline.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if !s.enter() {
		return
	}
	defer s.wg.Done()

	sub := s.bus.Subscribe(s.config.ClientBuffer)
	defer sub.Close()

	n := s.clients.Add(1)
	defer s.clients.Add(-1)
	logger.Printf("Websocket client connected from %s (%d active)", r.RemoteAddr, n)

	// Drain client frames so control messages are processed and a closed
	// socket is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.stopChan:
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
			return
		case <-gone:
			logger.Printf("Websocket client %s disconnected (%d events dropped)", r.RemoteAddr, sub.Dropped())
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if s.config.WriteTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Printf("Websocket write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}
