// Package api hosts the HTTP server, middleware, and REST handlers of the
// serve command. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/mirrors to queue a run, GET /v1/mirrors to list runs.
//   - GET /v1/mirrors/{run_id} for status and result, and
//     GET /v1/mirrors/{run_id}/manifest for the files a run wrote.
package api
