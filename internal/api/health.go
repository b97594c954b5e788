package api

import "net/http"

// healthResponse reports liveness plus the worker identity serving it, so a
// fleet dashboard can tell agents apart by their health probes alone.
type healthResponse struct {
	Status  string `json:"status"`
	AgentID string `json:"agent_id"`
	Queue   string `json:"queue"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		AgentID: s.agentID,
		Queue:   s.queueName,
	})
}
