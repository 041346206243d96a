// Package api hosts the read-only status server over the acquisition
// registry. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/summary for per-state counts.
//   - GET /v1/items?state=&limit=&offset= and GET /v1/items/{id} for rows.
package api
