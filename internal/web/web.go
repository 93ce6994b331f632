// Package web provides the HTTP admin interface for EmberDB.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberdb/emberdb/internal/command"
	"github.com/emberdb/emberdb/internal/hotkeys"
	"github.com/emberdb/emberdb/internal/metrics"
	"github.com/emberdb/emberdb/internal/protocol"
	"github.com/emberdb/emberdb/internal/server"
	"github.com/emberdb/emberdb/internal/store"
	"github.com/emberdb/emberdb/internal/version"
)

const (
	apiVersionPath = "/api/v1"

	// maxRequestBytes bounds an execute request body.
	maxRequestBytes = 1 << 20
)

// Deps are the components the admin interface reports on. Metrics and
// HotKeys are optional.
type Deps struct {
	Server  *server.Server
	Store   *store.Store
	Metrics *metrics.Metrics
	HotKeys *hotkeys.Tracker
	Logger  hclog.Logger
}

// Server represents the web server for the EmberDB admin interface.
type Server struct {
	addr      string
	deps      Deps
	logger    hclog.Logger
	startTime time.Time
}

// New creates a new web server.
func New(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{
		addr:      addr,
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
	}
}

// CommandRequest represents a command execution request.
type CommandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// CommandResponse represents a command execution response.
type CommandResponse struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Reply   string      `json:"reply,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// StatsResponse represents server statistics.
type StatsResponse struct {
	Version             string  `json:"version"`
	Uptime              int64   `json:"uptime"`
	UptimeHuman         string  `json:"uptime_human"`
	Shards              int     `json:"shards"`
	ScalarKeys          int     `json:"scalar_keys"`
	HashKeys            int     `json:"hash_keys"`
	SetKeys             int     `json:"set_keys"`
	HashFields          int     `json:"hash_fields"`
	SetMembers          int     `json:"set_members"`
	ActiveClients       int     `json:"active_clients"`
	TotalConnections    int64   `json:"total_connections"`
	RejectedConnections int64   `json:"rejected_connections"`
	TotalCommands       int64   `json:"total_commands"`
	MemoryUsed          uint64  `json:"memory_used"`
	MemoryUsedMB        float64 `json:"memory_used_mb"`
	GoRoutines          int     `json:"goroutines"`
	CPUs                int     `json:"cpus"`
}

// Start serves the admin interface until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the admin interface on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("admin interface listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the admin routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.routes())
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc(apiVersionPath+"/execute", s.handleExecute)
	mux.HandleFunc(apiVersionPath+"/stats", s.handleStats)
	mux.HandleFunc(apiVersionPath+"/clients", s.handleClients)
	mux.HandleFunc(apiVersionPath+"/hotkeys", s.handleHotKeys)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc(apiVersionPath+"/healthz", s.handleHealth)
	mux.HandleFunc(apiVersionPath+"/readyz", s.handleReady)

	if s.deps.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return mux
}

// corsMiddleware adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleExecute runs one command against the store, the same way a RESP
// client would.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, CommandResponse{Success: false, Error: "Invalid request"})
		return
	}

	args := req.Args
	if len(args) == 0 {
		args = parseCommand(req.Command)
	} else {
		args = append([]string{strings.TrimSpace(req.Command)}, args...)
	}
	if len(args) == 0 || args[0] == "" {
		writeJSONWithStatus(w, http.StatusBadRequest, CommandResponse{Success: false, Error: "Command required"})
		return
	}

	items := make([]protocol.Frame, len(args))
	for i, a := range args {
		items[i] = protocol.BulkStringFromString(a)
	}
	cmd, err := command.Parse(protocol.NewArray(items...))
	if err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, CommandResponse{Success: false, Error: err.Error()})
		return
	}

	start := time.Now()
	reply := command.Execute(cmd, s.deps.Store)
	s.deps.Metrics.ObserveCommand(command.Name(cmd), time.Since(start))
	if s.deps.HotKeys != nil {
		if key, ok := command.Key(cmd); ok {
			s.deps.HotKeys.Record(key)
		}
	}
	writeJSON(w, CommandResponse{Success: true, Result: frameToJSON(reply), Reply: protocol.Format(reply)})
}

// handleStats returns server statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(s.startTime)
	resp := StatsResponse{
		Version:      version.Version,
		Uptime:       int64(uptime.Seconds()),
		UptimeHuman:  formatDuration(uptime),
		MemoryUsed:   m.Alloc,
		MemoryUsedMB: float64(m.Alloc) / 1024 / 1024,
		GoRoutines:   runtime.NumGoroutine(),
		CPUs:         runtime.NumCPU(),
	}
	if s.deps.Store != nil {
		st := s.deps.Store.Stats()
		resp.Shards = st.Shards
		resp.ScalarKeys = st.Scalars
		resp.HashKeys = st.Hashes
		resp.SetKeys = st.Sets
		resp.HashFields = st.HashFields
		resp.SetMembers = st.SetMembers
	}
	if s.deps.Server != nil {
		st := s.deps.Server.Stats()
		resp.ActiveClients = st.ActiveClients
		resp.TotalConnections = st.TotalConnections
		resp.RejectedConnections = st.RejectedConnections
		resp.TotalCommands = st.TotalCommands
	}

	writeJSON(w, resp)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clients := []server.ClientInfo{}
	if s.deps.Server != nil {
		clients = s.deps.Server.Clients()
	}
	writeJSON(w, map[string]interface{}{
		"clients": clients,
		"total":   len(clients),
	})
}

// handleHotKeys lists the most accessed keys on GET and clears the counters
// on DELETE.
func (s *Server) handleHotKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.HotKeys == nil {
		http.Error(w, "Hot key tracking disabled", http.StatusNotFound)
		return
	}
	if r.Method == http.MethodDelete {
		s.deps.HotKeys.Reset()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	n := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		if n, err = strconv.Atoi(l); err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, map[string]interface{}{
		"keys":    s.deps.HotKeys.Top(n),
		"tracked": s.deps.HotKeys.Size(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports ready once the RESP listener accepts connections.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := false
	if s.deps.Server != nil {
		select {
		case <-s.deps.Server.Ready():
			ready = true
		default:
		}
	}

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}
	writeJSONWithStatus(w, statusCode, map[string]interface{}{
		"status": status,
		"ready":  ready,
	})
}

// frameToJSON converts a reply frame into a value encoding/json can render.
func frameToJSON(f protocol.Frame) interface{} {
	switch v := f.(type) {
	case protocol.SimpleString:
		return string(v)
	case protocol.SimpleError:
		return map[string]string{"error": string(v)}
	case protocol.Integer:
		return int64(v)
	case protocol.Boolean:
		return bool(v)
	case protocol.Double:
		// NaN and the infinities have no JSON number form.
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case protocol.BulkString:
		return v.Text()
	case protocol.Array:
		return framesToJSON(v.Items())
	case protocol.Set:
		return framesToJSON(v.Items())
	case *protocol.Map:
		out := make(map[string]interface{}, v.Len())
		v.Ascend(func(key string, value protocol.Frame) bool {
			out[key] = frameToJSON(value)
			return true
		})
		return out
	default:
		return nil
	}
}

func framesToJSON(items []protocol.Frame) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = frameToJSON(item)
	}
	return out
}

// parseCommand parses a command string into parts, handling quoted strings.
func parseCommand(input string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)

	for i := 0; i < len(input); i++ {
		c := input[i]
		if inQuote {
			if c == quoteChar {
				inQuote = false
			} else {
				current.WriteByte(c)
			}
		} else if c == '"' || c == '\'' {
			inQuote = true
			quoteChar = c
		} else if c == ' ' {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		} else {
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONWithStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// formatDuration formats a duration as human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
