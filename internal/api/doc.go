// Package api hosts the status HTTP server of a crawl run. Routes:
//   - GET /healthz and /readyz for probes; readiness pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for pipeline and crawl counters of the current run.
//   - GET /v1/buffers for per-collection buffer lengths and queued records.
//   - GET /v1/collections/{collection}?link=... to look up a stored entity by identifying link.
package api
