// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live stream sessions and their churn
//   - Published, delivered and dropped events per type
//   - Batch operation outcomes and latencies
//   - HTTP request counts per route
//
// All collectors live on a private registry exposed through Handler. A nil
// *Metrics is valid and records nothing.
package metrics
