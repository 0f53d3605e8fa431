package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Prometheus scrape endpoint
	if s.app.Metrics != nil {
		mux.Handle("/metrics", s.app.Metrics.Handler())
	}

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)                         // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetJobStatsHandler) // GET - counts per status
	mux.HandleFunc("/api/jobs/batch", s.app.JobHandler.BatchHandler)       // POST - batch expansion
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)                        // GET/PUT/DELETE /{id}, POST /{id}/retry

	// Worker pull
	mux.HandleFunc("/api/jobs/next", s.requireWorker(s.app.JobHandler.NextJobHandler))

	// API routes - Workers
	mux.HandleFunc("/api/workers", s.handleWorkersRoute) // GET (list), POST (register)
	mux.HandleFunc("/api/workers/", s.handleWorkerRoutes)

	// API routes - Delivery collaborators
	mux.HandleFunc("/api/scenarios", s.requireWorker(s.app.CollaboratorHandler.ScenarioHandler))
	mux.HandleFunc("/api/fingerprints", s.app.CollaboratorHandler.FingerprintHandler)
	mux.HandleFunc("/api/proxies", s.app.CollaboratorHandler.ProxiesHandler)
	mux.HandleFunc("/api/proxies/", s.app.CollaboratorHandler.ProxyHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 for unmatched API routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes GET /api/jobs (list) and POST /api/jobs (create)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.JobHandler.ListJobsHandler, s.app.JobHandler.CreateJobHandler)
}

// handleJobRoutes routes /api/jobs/{id} and its sub-resources.
// Workers report results through PUT; their key is checked when present.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if rest == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	if RouteByPathSuffix(w, r, "/api/jobs/", []PathSuffixRouter{
		{Suffix: "/retry", Handler: s.app.JobHandler.RetryJobHandler},
	}) {
		return
	}

	if strings.Contains(rest, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	RouteResourceItem(w, r,
		s.app.JobHandler.GetJobHandler,
		s.optionalWorker(s.app.JobHandler.UpdateJobHandler),
		s.app.JobHandler.CancelJobHandler,
	)
}

// handleWorkersRoute routes GET /api/workers (list) and POST /api/workers (register)
func (s *Server) handleWorkersRoute(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, s.app.WorkerHandler.ListWorkersHandler, s.app.WorkerHandler.RegisterHandler)
}

// handleWorkerRoutes routes /api/workers/{id}, /heartbeat and /metrics
func (s *Server) handleWorkerRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/workers/"), "/")
	if rest == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	if RouteByPathSuffix(w, r, "/api/workers/", []PathSuffixRouter{
		{Suffix: "/heartbeat", Handler: s.requireWorker(s.app.WorkerHandler.HeartbeatHandler)},
		{Suffix: "/metrics", Handler: s.requireWorker(s.app.WorkerHandler.MetricsHandler)},
	}) {
		return
	}

	if strings.Contains(rest, "/") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	RouteResourceItem(w, r,
		s.app.WorkerHandler.GetWorkerHandler,
		s.app.WorkerHandler.UpdateWorkerHandler,
		s.app.WorkerHandler.DeleteWorkerHandler,
	)
}
