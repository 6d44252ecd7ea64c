package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/delivery"
	"github.com/sells-group/lead-intake/internal/diagnose"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
)

const (
	maxBodyBytes = 64 << 10
	corsMaxAge   = 86400
)

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lead_intake",
	Name:      "submissions_total",
	Help:      "Lead submissions by result.",
}, []string{"result"})

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the intake, diagnosis and health endpoints.
type Handler struct {
	svc       *Service
	diagnoser diagnose.Diagnoser
	pinger    Pinger
	breakers  *resilience.ServiceBreakers
}

// NewHandler creates a Handler. breakers may be nil.
func NewHandler(svc *Service, diagnoser diagnose.Diagnoser, pinger Pinger, breakers *resilience.ServiceBreakers) *Handler {
	return &Handler{svc: svc, diagnoser: diagnoser, pinger: pinger, breakers: breakers}
}

// Router builds the HTTP routes.
func (h *Handler) Router(corsCfg config.CORSConfig) http.Handler {
	origins := corsCfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: corsMethods,
		AllowedHeaders: corsHeaders,
		MaxAge:         corsMaxAge,
	}))

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	r.Post("/submit-lead", h.submitLead)
	r.Options("/submit-lead", preflight)

	r.HandleFunc("/ghl-diagnose", h.diagnose)
	r.Options("/ghl-diagnose", preflight)

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	LeadID  string `json:"lead_id"`
}

func (h *Handler) submitLead(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sub); err != nil {
		submissionsTotal.WithLabelValues("invalid_body").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	id, err := h.svc.Submit(r.Context(), sub)
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		submissionsTotal.WithLabelValues("missing_fields").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          "Missing required fields",
			"missing_fields": verr.Missing,
		})
	case err != nil:
		submissionsTotal.WithLabelValues("store_error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to store lead data"})
	default:
		submissionsTotal.WithLabelValues("accepted").Inc()
		writeJSON(w, http.StatusOK, submitResponse{
			Success: true,
			Message: "Lead submitted successfully",
			LeadID:  id,
		})
	}
}

// refresher is a cached diagnoser that can bypass its cache.
type refresher interface {
	Refresh(ctx context.Context) (*model.Diagnosis, error)
}

// diagnose always probes live. A cached diagnoser gets its entry replaced
// with the fresh result, and a passing diagnosis closes the CRM breaker.
func (h *Handler) diagnose(w http.ResponseWriter, r *http.Request) {
	run := h.diagnoser.Diagnose
	if rf, ok := h.diagnoser.(refresher); ok {
		run = rf.Refresh
	}
	d, err := run(r.Context())
	switch {
	case errors.Is(err, diagnose.ErrMissingAPIKey):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"ok":    false,
			"error": "Missing GHL_API_KEY secret",
			"hint":  "Set GHL_API_KEY (or LEADS_GHL_API_KEY) in the service environment",
		})
	case err != nil:
		zap.L().Error("intake: diagnosis failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
	default:
		if d.OK && h.breakers != nil && h.breakers.Reset(delivery.TargetGHL) {
			zap.L().Info("intake: CRM breaker reset after passing diagnosis", zap.String("code", string(d.Code)))
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{"status": "ok"}
	if h.breakers != nil {
		resp["breakers"] = h.breakers.States()
		resp["breaker_failures"] = h.breakers.Failures()
	}
	if err := h.pinger.Ping(ctx); err != nil {
		resp["status"] = "unavailable"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// preflight answers OPTIONS requests that the CORS middleware passed through
// (no Access-Control-Request-Method) with the same permissive headers.
func preflight(w http.ResponseWriter, _ *http.Request) {
	hdr := w.Header()
	if hdr.Get("Access-Control-Allow-Origin") == "" {
		hdr.Set("Access-Control-Allow-Origin", "*")
	}
	hdr.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	hdr.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	hdr.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("intake: write response", zap.Error(err))
	}
}

// accessLog logs one line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		)
	})
}
