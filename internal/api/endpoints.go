package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/R3duxLabs/EchoMind-Backend/internal/batch"
)

// PresenceStatus is the response of the presence endpoint.
type PresenceStatus struct {
	Identity  string `json:"identity"`
	Connected bool   `json:"connected"`
	Sessions  int    `json:"sessions"`
}

// PublishRequest is the body of the publish endpoint.
type PublishRequest struct {
	Identity string         `json:"identity"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type publishResponse struct {
	Delivered int `json:"delivered"`
}

// Batch submits ops on behalf of identity, or the client's default identity
// when empty. A non-nil result means the batch
// ran; individual failures are reported in the result, not as an error.
func (c *Client) Batch(ctx context.Context, identity string, ops []batch.Operation) (*batch.Result, error) {
	if ops == nil {
		return nil, batch.ErrNoOperations
	}

	if identity == "" {
		identity = c.identity
	}

	var result batch.Result
	err := c.call(ctx, request{
		method:   http.MethodPost,
		path:     "/batch",
		identity: identity,
	}, batch.Request{Operations: ops}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Publish pushes an event to every live session of identity and returns how
// many sessions accepted it.
func (c *Client) Publish(ctx context.Context, identity, eventType string, payload map[string]any) (int, error) {
	if identity == "" {
		return 0, errors.New("identity is required")
	}

	var resp publishResponse
	err := c.call(ctx, request{
		method: http.MethodPost,
		path:   "/publish",
	}, PublishRequest{Identity: identity, Type: eventType, Payload: payload}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Delivered, nil
}

// Presence reports whether identity currently holds a live session.
func (c *Client) Presence(ctx context.Context, identity string) (*PresenceStatus, error) {
	if identity == "" {
		return nil, errors.New("identity is required")
	}

	var status PresenceStatus
	err := c.call(ctx, request{
		method: http.MethodGet,
		path:   "/presence/" + url.PathEscape(identity),
	}, nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}
