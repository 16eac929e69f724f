package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/coreminer/kawpowd/log"
)

// HTTPConfig parameterizes the read-only status surface.
type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

// Server exposes a Monitor's current metrics, history, and alerts over
// plain read-only HTTP/JSON endpoints.
type Server struct {
	mon *Monitor
	srv *http.Server
	log *log.Logger
}

// NewServer builds a Server wired to mon; call ListenAndServe to start it.
func NewServer(cfg HTTPConfig, mon *Monitor) *Server {
	router := httprouter.New()
	s := &Server{mon: mon, log: log.Root().With("component", "monitor-http")}

	router.GET("/status", s.handleStatus)
	router.GET("/metrics", s.handleMetrics)
	router.GET("/history", s.handleHistory)
	router.GET("/alerts", s.handleAlerts)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts the HTTP server, blocking until it errors or is
// shut down.
func (s *Server) ListenAndServe() error {
	s.log.Info("monitor http surface listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.srv.Close()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, struct {
		Metrics Metrics `json:"metrics"`
		Stats   Stats   `json:"stats"`
	}{s.mon.CurrentMetrics(), s.mon.Stats()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.mon.CurrentMetrics())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			window = d
		}
	}
	avg, ok := s.mon.CalculateAverages(window)
	writeJSON(w, struct {
		Window   string  `json:"window"`
		Averages Metrics `json:"averages"`
		Ok       bool    `json:"ok"`
	}{window.String(), avg, ok})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, s.mon.Alerts())
}
