// Package api is a client for the echomind HTTP endpoints.
//
// The Client submits batches, publishes events to a subscriber identity and
// queries presence. Requests that the server rejected before doing any work
// (429 and 503) are retried with jittered exponential backoff; anything else
// is returned to the caller as an *APIError so a batch never runs twice.
package api
