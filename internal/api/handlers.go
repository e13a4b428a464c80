// Package api implements the admin HTTP surface: health/readiness/liveness,
// Prometheus metrics, the debug toggle, and demo produce/consume endpoints
// for driving the producer/consumer engines manually. Grounded on the
// teacher's internal/api/handlers.go route-registration and
// metrics-recording shape, generalized from S3 object operations to GEP's
// produce/consume operations.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/ndn-group-encrypt/internal/consumer"
	"github.com/kenneth/ndn-group-encrypt/internal/debug"
	"github.com/kenneth/ndn-group-encrypt/internal/gepkeydb"
	"github.com/kenneth/ndn-group-encrypt/internal/gepmetrics"
	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/geptransport"
	"github.com/kenneth/ndn-group-encrypt/internal/producer"
)

// Handler serves the admin HTTP surface around one producer/consumer pair.
type Handler struct {
	producer *producer.Producer
	consumer *consumer.Consumer
	keydb    gepkeydb.KeyDatabase
	logger   *logrus.Logger
	metrics  *gepmetrics.Metrics
}

// NewHandler creates a new admin API handler. producer/consumer may be nil
// if this process only runs the other role.
func NewHandler(p *producer.Producer, c *consumer.Consumer, keydb gepkeydb.KeyDatabase, logger *logrus.Logger, m *gepmetrics.Metrics) *Handler {
	return &Handler{producer: p, consumer: c, keydb: keydb, logger: logger, metrics: m}
}

// RegisterRoutes registers every admin route on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/ready", h.handleReady).Methods("GET")
	r.HandleFunc("/live", h.handleLive).Methods("GET")
	r.Handle("/metrics", h.metrics.Handler()).Methods("GET")

	r.HandleFunc("/debug", h.handleGetDebug).Methods("GET")
	r.HandleFunc("/debug", h.handleSetDebug).Methods("POST")

	r.HandleFunc("/demo/produce", h.handleDemoProduce).Methods("POST")
	r.HandleFunc("/demo/consume", h.handleDemoConsume).Methods("POST")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	gepmetrics.HealthHandler()(w, r)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	gepmetrics.ReadinessHandler(h.keyDatabasePing)(w, r)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	gepmetrics.LivenessHandler()(w, r)
}

func (h *Handler) keyDatabasePing(ctx context.Context) error {
	if h.keydb == nil {
		return nil
	}
	_, err := h.keydb.HasContentKey(ctx, time.Now())
	return err
}

type debugStatus struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) handleGetDebug(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, debugStatus{Enabled: debug.Enabled()})
}

func (h *Handler) handleSetDebug(w http.ResponseWriter, r *http.Request) {
	var req debugStatus
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	debug.SetEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, req)
}

type produceRequest struct {
	Prefix    string `json:"prefix"`
	DataType  string `json:"data_type"`
	Timestamp string `json:"timestamp"` // RFC3339; defaults to now
	Plaintext string `json:"plaintext"` // base64
}

type produceResponse struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

func (h *Handler) handleDemoProduce(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.producer == nil {
		http.Error(w, "no producer configured on this instance", http.StatusServiceUnavailable)
		return
	}

	var req produceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			http.Error(w, "invalid timestamp, want RFC3339", http.StatusBadRequest)
			return
		}
		ts = parsed
	}

	plaintext, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		http.Error(w, "invalid base64 plaintext", http.StatusBadRequest)
		return
	}

	data, err := h.producer.Produce(r.Context(), ts, plaintext)
	if err != nil {
		h.logger.WithError(err).Error("demo produce failed")
		http.Error(w, "produce failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, produceResponse{
		Name:    data.Name.String(),
		Content: base64.StdEncoding.EncodeToString(data.Content),
	})
	if debug.Enabled() {
		h.logger.WithFields(logrus.Fields{
			"name":     data.Name.String(),
			"duration": time.Since(start),
		}).Debug("demo produce")
	}
}

type consumeRequest struct {
	Name string `json:"name"`
}

type consumeResponse struct {
	Plaintext string `json:"plaintext"` // base64
}

func (h *Handler) handleDemoConsume(w http.ResponseWriter, r *http.Request) {
	if h.consumer == nil {
		http.Error(w, "no consumer configured on this instance", http.StatusServiceUnavailable)
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	type result struct {
		plaintext []byte
		err       error
	}
	done := make(chan result, 1)
	h.consumer.Consume(r.Context(), gepname.New(req.Name), nil,
		func(_ geptransport.Data, plaintext []byte) { done <- result{plaintext: plaintext} },
		func(err error) { done <- result{err: err} },
	)

	select {
	case res := <-done:
		if res.err != nil {
			h.logger.WithError(res.err).Error("demo consume failed")
			http.Error(w, "consume failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, consumeResponse{Plaintext: base64.StdEncoding.EncodeToString(res.plaintext)})
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusRequestTimeout)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
