// Package api hosts the read-only HTTP surface of the harvester. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for store counts and sync progress.
//   - GET /failures for the failed document ledger.
package api
