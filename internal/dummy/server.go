// Package dummy is a stand-in for the landmark inference service, used for
// offline runs and tests.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	landmarkCount = 126
	invalidLabel  = "Tangan Tidak Valid"
)

// Alphabet labels of the sign language classifier.
var labels = []string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
}

type ServerConfig struct {
	Port int

	Delay  time.Duration // added to every prediction
	Jitter time.Duration // random extra in [0, Jitter)

	// FailEvery makes every Nth prediction call answer 500. 0 disables.
	FailEvery int

	// Unloaded answers 200 with an error payload, like a service whose
	// model failed to load.
	Unloaded bool

	// OnPredict, if set, is called at the start and end of every
	// prediction request. Tests use it to observe request overlap.
	OnPredict func(start, end time.Time)
}

type Server struct {
	cfg   ServerConfig
	log   zerolog.Logger
	calls atomic.Int64
}

type predictRequest struct {
	Landmarks []float64 `json:"landmarks"`
}

// NewHandler returns the service's routes.
func NewHandler(cfg ServerConfig, log zerolog.Logger) http.Handler {
	s := &Server{cfg: cfg, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleRoot)
	r.Post("/predict_landmarks", s.handlePredict)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "AI Backend is running"})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if s.cfg.OnPredict != nil {
		defer func() { s.cfg.OnPredict(start, time.Now()) }()
	}

	n := s.calls.Add(1)
	s.sleep(r.Context())

	if s.cfg.FailEvery > 0 && n%int64(s.cfg.FailEvery) == 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "injected failure"})
		return
	}
	if s.cfg.Unloaded {
		writeJSON(w, http.StatusOK, map[string]string{"error": "model not loaded"})
		return
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prediction": Predict(req.Landmarks)})
}

func (s *Server) sleep(ctx context.Context) {
	d := s.cfg.Delay
	if s.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(s.cfg.Jitter)))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Predict is a deterministic stand-in for the classifier: a vector of the
// wrong length is rejected, anything else maps to a letter.
func Predict(landmarks []float64) string {
	if len(landmarks) != landmarkCount {
		return invalidLabel
	}
	var sum float64
	for _, v := range landmarks {
		sum += v
	}
	idx := int(math.Abs(math.Round(sum*1000))) % len(labels)
	return labels[idx]
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves the mock until ctx is done.
func Start(ctx context.Context, cfg ServerConfig, log zerolog.Logger) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           NewHandler(cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", ln.Addr().String()).
		Dur("delay", cfg.Delay).
		Int("fail_every", cfg.FailEvery).
		Bool("unloaded", cfg.Unloaded).
		Msg("dummy inference server running")

	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
