// Package api hosts the HTTP server, middleware, and REST handlers for the
// harvest service. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/harvests to queue a harvest.
//   - GET /v1/harvests/{harvest_id} and /v1/harvests/{harvest_id}/result to
//     poll status and fetch merged contacts.
package api
