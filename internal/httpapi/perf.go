package httpapi

import "net/http"

// handlePerfLatency serves the rolling turn latency window; nil metrics yield an empty one.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.LatencySnapshot())
}
