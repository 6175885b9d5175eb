// Package api provides documentation for the MindFlow HTTP API.
//
// # API Overview
//
// MindFlow provides a RESTful API for:
//   - Orchestrated completions with memory-augmented retrieval (POST /orchestrate)
//   - Provider health monitoring (/health)
//   - Liveness and readiness probes (/healthz, /ready)
//   - Prometheus metrics (/metrics, on the metrics port)
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
