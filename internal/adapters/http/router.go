package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chenziqing0111/agent-core-2/internal/config"
	"github.com/chenziqing0111/agent-core-2/internal/core/domain"
	"github.com/chenziqing0111/agent-core-2/internal/core/ports"
	"github.com/chenziqing0111/agent-core-2/internal/observability/metrics"
)

const (
	serviceName     = "api"
	backpressureMax = 2 * time.Second
)

type Router struct {
	cfg       config.Config
	evidence  ports.EvidenceService
	citations ports.CitationRenderer
	metrics   *metrics.HTTPServerMetrics
}

// NewRouter wires the HTTP surface; m may be nil.
func NewRouter(
	cfg config.Config,
	evidence ports.EvidenceService,
	citations ports.CitationRenderer,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:       cfg,
		evidence:  evidence,
		citations: citations,
		metrics:   m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/dimensions", rt.buildDimensions)
	mux.HandleFunc("/v1/evidence", rt.assembleEvidence)
	mux.HandleFunc("/v1/citations/render", rt.renderCitations)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, backpressureMax)

	var onReject func(string)
	if rt.metrics != nil {
		onReject = func(path string) { rt.metrics.RecordRateLimited(serviceName, path) }
	}
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type dimensionsRequest struct {
	Entity domain.Entity `json:"entity"`
}

type dimensionsResponse struct {
	CombinationKey domain.CombinationKey `json:"combination_key"`
	Dimensions     []domain.Dimension    `json:"dimensions"`
}

func (rt *Router) buildDimensions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req dimensionsRequest
	if !rt.decode(w, r, &req) {
		return
	}

	key, dims := rt.evidence.Plan(req.Entity)
	writeJSON(w, http.StatusOK, dimensionsResponse{CombinationKey: key, Dimensions: dims})
}

func (rt *Router) assembleEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	// Options omitted by the caller keep the service defaults.
	req := domain.EvidenceRequest{Options: rt.evidence.DefaultOptions()}
	if !rt.decode(w, r, &req) {
		return
	}

	bundle, err := rt.evidence.Assemble(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

type renderCitationsRequest struct {
	References []domain.Reference `json:"references"`
	Text       string             `json:"text"`
}

func (rt *Router) renderCitations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req renderCitationsRequest
	if !rt.decode(w, r, &req) {
		return
	}

	text, err := rt.citations.RenderCitations(req.References, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (rt *Router) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := r.Body
	if rt.cfg.APIMaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, rt.cfg.APIMaxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{
		"error":      err.Error(),
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
