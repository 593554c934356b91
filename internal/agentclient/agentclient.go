// Package agentclient is a thin, cheaply clonable client for the Agent
// RPC surface: ping, reboot, shut down, suspend.
package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/bnavetta/samwise/internal/id"
)

// Status is the result of a Ping: either the device is running a known
// target, or it's considered Inactive.
type Status struct {
	Active bool
	Target id.TargetId
}

// Client is a reference to one Agent's RPC endpoint. The underlying
// http.Client is connection-pooling and safe for concurrent use, so a
// Client can be freely copied and shared across device handles.
type Client struct {
	baseURI string
	http    *http.Client
}

// New builds a Client for the Agent listening at baseURI (e.g.
// "http://htpc.lan:8673"). No connection is established until the first
// call.
func New(baseURI string) *Client {
	return &Client{
		baseURI: baseURI,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping reports the Agent's current target. Per spec, this never
// returns an error to the caller: any RPC-level failure (timeout,
// connection refused, non-OK status, malformed body) collapses to an
// Inactive status, since a device that doesn't answer is by definition
// not Running from Samwise's point of view.
func (c *Client) Ping(ctx context.Context) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURI+"/ping", nil)
	if err != nil {
		return Status{Active: false}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{Active: false}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{Active: false}
	}

	var body struct {
		CurrentTarget string `json:"current_target"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Status{Active: false}
	}

	return Status{Active: true, Target: id.TargetId(body.CurrentTarget)}
}

// Reboot, ShutDown, and Suspend issue the corresponding power RPC and
// return a human-readable error on any RPC-level failure.
func (c *Client) Reboot(ctx context.Context) error  { return c.postAction(ctx, "/reboot") }
func (c *Client) ShutDown(ctx context.Context) error { return c.postAction(ctx, "/shutdown") }
func (c *Client) Suspend(ctx context.Context) error  { return c.postAction(ctx, "/suspend") }

func (c *Client) postAction(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+path, nil)
	if err != nil {
		return errors.Wrapf(err, "building request for %s", path)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling agent %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("agent %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
