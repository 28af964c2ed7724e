package buttons

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultRemoteTimeout = 10 * time.Second

// RemotePayload is the body posted to a remote action endpoint.
type RemotePayload struct {
	Action      string       `json:"action"`
	ExecutionID string       `json:"exec_id"`
	Showing     *RefreshInfo `json:"showing,omitempty"`
	Instance    string       `json:"instance,omitempty"`
}

// RemoteAction adapts an HTTP endpoint owned by a feature module into an ActionFunc.
type RemoteAction struct {
	Name    string
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Func returns the registry callback that POSTs a RemotePayload to URL.
func (r RemoteAction) Func() ActionFunc {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	return func(ctx context.Context, actx ActionContext) error {
		payload := BuildRemotePayload(r.Name, actx)
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("remote action %s: encode: %w", r.Name, err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("remote action %s: %w", r.Name, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("remote action %s: %w", r.Name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("remote action %s: status %d: %s", r.Name, resp.StatusCode, bytes.TrimSpace(msg))
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
}

// BuildRemotePayload captures what a remote feature needs to know about an invocation.
func BuildRemotePayload(action string, actx ActionContext) RemotePayload {
	p := RemotePayload{Action: action, ExecutionID: actx.ExecutionID}
	if actx.Device != nil {
		info := actx.Device.RefreshInfo()
		if info.OwnerID != "" {
			p.Showing = &info
		}
	}
	if actx.CurrentInstance != nil {
		p.Instance = actx.CurrentInstance.Name()
	}
	return p
}
