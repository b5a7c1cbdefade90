package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"chipforge-gateway/internal/config"
	"chipforge-gateway/internal/evaluate"
	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/schemas"
)

var logger = logging.For("http")

// multipart parts beyond this size spill to temporary files.
const formMemory = 32 << 20

type Evaluator interface {
	Evaluate(ctx context.Context, req evaluate.Request) (*schemas.EvaluateResponse, error)
}

// HealthChecker is a backend that can report its own health document.
type HealthChecker interface {
	Name() string
	Health(ctx context.Context) any
}

type Server struct {
	cfg      *config.Config
	eval     Evaluator
	backends []HealthChecker
}

func NewServer(cfg *config.Config, eval Evaluator, backends ...HealthChecker) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, eval, backends...),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(cfg *config.Config, eval Evaluator, backends ...HealthChecker) http.Handler {
	s := &Server{cfg: cfg, eval: eval, backends: backends}
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken(cfg.APIToken))
		r.Post("/evaluate", s.evaluate)
		r.Get("/health", s.health)
	})

	// liveness of this process only; backends are not contacted
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type errResp struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, code int, submissionID, msg string) {
	writeJSON(w, code, schemas.EvaluateResponse{
		Success:      false,
		SubmissionID: submissionID,
		ErrorMessage: msg,
	})
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "", fmt.Sprintf("upload exceeds %d bytes", tooBig.Limit))
			return
		}
		writeFailure(w, http.StatusBadRequest, "", "expected a multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	design, designName, err := formFile(r, "design_zip")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "", err.Error())
		return
	}
	evaluator, _, err := formFile(r, "evaluator_zip")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "", err.Error())
		return
	}

	resp, err := s.eval.Evaluate(r.Context(), evaluate.Request{
		SubmissionID: r.FormValue("submission_id"),
		Design:       design,
		DesignName:   designName,
		Evaluator:    evaluator,
		Scoring:      []byte(r.FormValue("scoring")),
	})
	if err != nil {
		var rerr *evaluate.RequestError
		if errors.As(err, &rerr) {
			writeFailure(w, rerr.Status, rerr.SubmissionID, rerr.Error())
			return
		}
		logger.WithError(err).Error("Unexpected evaluation error")
		writeFailure(w, http.StatusInternalServerError, "", "evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func formFile(r *http.Request, field string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%s is required", field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", field, err)
	}
	return data, hdr.Filename, nil
}

// health asks every backend concurrently, each bounded by HealthTimeout.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()

	out := schemas.HealthResponse{Gateway: "healthy", Services: make(map[string]any, len(s.backends))}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, b := range s.backends {
		g.Go(func() error {
			status := b.Health(ctx)
			mu.Lock()
			out.Services[b.Name()] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	writeJSON(w, http.StatusOK, out)
}
