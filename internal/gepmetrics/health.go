package gepmetrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Status is the JSON body returned by the health/readiness/liveness probes.
type Status struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

var (
	startTime = time.Now()
	version   = "dev"
)

// SetVersion sets the version string reported by every probe.
func SetVersion(v string) { version = v }

// HealthHandler reports unconditional liveness, matching the teacher's
// health-check posture for a stateless probe.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, Status{Status: "healthy", Timestamp: time.Now(), Version: version})
	}
}

// ReadinessHandler reports ready only if keyDatabaseHealthCheck (when given)
// succeeds — e.g. a Redis or S3 key-database backend ping.
func ReadinessHandler(keyDatabaseHealthCheck func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if keyDatabaseHealthCheck != nil {
			if err := keyDatabaseHealthCheck(r.Context()); err != nil {
				writeStatus(w, http.StatusServiceUnavailable, Status{Status: "not_ready", Timestamp: time.Now(), Version: version})
				return
			}
		}
		writeStatus(w, http.StatusOK, Status{Status: "ready", Timestamp: time.Now(), Version: version})
	}
}

// LivenessHandler reports alive as long as the process can serve requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, Status{Status: "alive", Timestamp: time.Now(), Version: version})
	}
}

func writeStatus(w http.ResponseWriter, code int, status Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
