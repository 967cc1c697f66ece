package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
	"github.com/kirillkom/docqa-assistant/internal/core/ports"
	"github.com/kirillkom/docqa-assistant/internal/observability/metrics"
)

type TrafficConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	ask     ports.QuestionAnswerer
	states  ports.StateReader
	metrics *metrics.HTTPServerMetrics
	service string
	traffic TrafficConfig
}

func NewRouter(
	ask ports.QuestionAnswerer,
	states ports.StateReader,
	m *metrics.HTTPServerMetrics,
	service string,
	traffic TrafficConfig,
) *Router {
	return &Router{
		ask:     ask,
		states:  states,
		metrics: m,
		service: service,
		traffic: traffic,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/qa/ask", rt.askQuestion)
	mux.HandleFunc("/v1/conversations/", rt.conversationState)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.traffic.MaxInFlight, rt.traffic.QueueWait)
	handler = rateLimitMiddleware(handler, rt.traffic.RateLimitRPS, rt.traffic.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	ConversationID string   `json:"conversation_id"`
	Question       string   `json:"question"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
	Folder         string   `json:"folder,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Domain         string   `json:"domain,omitempty"`
}

func (rt *Router) askQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	filter := domain.SearchFilter{
		DocumentIDs: req.DocumentIDs,
		Folder:      req.Folder,
		Tags:        req.Tags,
		Domain:      req.Domain,
	}

	answer, err := rt.ask.Ask(r.Context(), req.ConversationID, req.Question, filter)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordAsk(rt.service, answer.Answerable, answer.Reason, len(answer.Evidence))
		rt.metrics.RecordDegraded(rt.service, answer.Degraded)
		rt.metrics.RecordDomain(rt.service, answer.Domain)
		if answer.Grounding != nil {
			rt.metrics.RecordGrounding(rt.service, answer.Grounding.CoveragePercent, len(answer.Citations))
		}
	}

	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) conversationState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/conversations/")
	conversationID := strings.TrimSuffix(rest, "/state")
	if conversationID == "" || conversationID == rest {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	state, err := rt.states.State(r.Context(), conversationID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
