// Package sandboxclient is a typed HTTP wrapper over the external sandbox
// provider: create, warm, snapshot, restore. Every failure is classified as
// transient or permanent so the lifecycle manager's circuit breaker can act
// on the classification instead of parsing error strings.
package sandboxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
)

// FailureKind distinguishes retryable provider failures from ones that must
// not be retried automatically.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// Error is a classified sandbox provider failure.
type Error struct {
	Kind       FailureKind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// IsTransient reports whether err is a provider Error classified transient.
func IsTransient(err error) bool {
	var e *Error
	return errorsAs(err, &e) && e.Kind == FailureTransient
}

func errorsAs(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CreateConfig describes a new sandbox to provision.
type CreateConfig struct {
	RepoOwner         string `json:"repo_owner"`
	RepoName          string `json:"repo_name"`
	RepoDefaultBranch string `json:"repo_default_branch"`
	BaseSHA           string `json:"base_sha,omitempty"`
	AuthToken         string `json:"auth_token"`
}

// CreateResult mirrors the provider's create-sandbox response contract.
// ObjectID is the provider's own internal identifier for the sandbox
// (distinct from SandboxID, which the coordinator itself assigns) and is
// what the snapshot/restore endpoints and the sandbox socket's
// X-Sandbox-ID header key off of.
type CreateResult struct {
	SandboxID string `json:"sandbox_id"`
	ObjectID  string `json:"modal_object_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// SnapshotResult mirrors the provider's snapshot-sandbox response contract.
type SnapshotResult struct {
	ImageID string `json:"image_id"`
}

// RestoreResult mirrors the provider's restore-sandbox response contract.
type RestoreResult struct {
	SandboxID string `json:"sandbox_id"`
	Status    string `json:"status"`
}

// Client wraps the provider's HTTP surface with HMAC-signed bearer auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *cryptoutil.HMACSigner
}

// NewClient builds a provider client for baseURL, signing every outbound
// request with the shared provider secret.
func NewClient(baseURL string, signer *cryptoutil.HMACSigner) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
	}
}

// Create provisions a fresh sandbox from cold.
func (c *Client) Create(ctx context.Context, cfg CreateConfig) (*CreateResult, error) {
	var out CreateResult
	if err := c.post(ctx, "/create-sandbox", cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Warm asks the provider to prefetch capacity without committing to a full
// create; providers may ignore this as a no-op.
func (c *Client) Warm(ctx context.Context, cfg CreateConfig) error {
	return c.post(ctx, "/warm-sandbox", cfg, nil)
}

// Snapshot captures the current filesystem state of objectID.
func (c *Client) Snapshot(ctx context.Context, objectID string) (*SnapshotResult, error) {
	var out SnapshotResult
	body := map[string]string{"object_id": objectID}
	if err := c.post(ctx, "/snapshot-sandbox", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restore spins a sandbox back up from a previously captured snapshot.
func (c *Client) Restore(ctx context.Context, snapshotImageID string, cfg CreateConfig) (*RestoreResult, error) {
	var out RestoreResult
	body := struct {
		SnapshotImageID string `json:"snapshot_image_id"`
		CreateConfig
	}{SnapshotImageID: snapshotImageID, CreateConfig: cfg}
	if err := c.post(ctx, "/restore-sandbox", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks provider reachability; used only by operational tooling,
// never on the hot path.
func (c *Client) Health(ctx context.Context) error {
	return c.post(ctx, "/health", nil, nil)
}

// SandboxURL derives the websocket URL a sandbox with objectID should dial
// back to reach this coordinator; the provider is expected to pass this
// through to the sandbox's bootstrap environment.
func (c *Client) SandboxURL(objectID string) string {
	return c.baseURL + "/sandboxes/" + objectID
}

// envelope mirrors the provider's uniform response shape: every endpoint
// answers 200 with {"success": true, "data": ...} or {"success": false,
// "error": "..."} even when the underlying failure is an application-level
// error rather than an HTTP-level one.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func decodeEnvelope(respBody []byte, out interface{}) error {
	if len(respBody) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &Error{Kind: FailurePermanent, Message: "failed to decode provider envelope", Cause: err}
	}
	if !env.Success {
		return &Error{Kind: FailurePermanent, Message: "provider reported failure: " + env.Error}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &Error{Kind: FailurePermanent, Message: "failed to decode provider response data", Cause: err}
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: FailurePermanent, Message: "failed to marshal request body", Cause: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: FailurePermanent, Message: "failed to build provider request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.signer != nil && c.signer.Configured() {
		req.Header.Set("Authorization", "Bearer "+c.signer.Mint(time.Now()))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: FailureTransient, Message: "provider request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeEnvelope(respBody, out)
	case resp.StatusCode == http.StatusBadGateway, resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusGatewayTimeout:
		return &Error{Kind: FailureTransient, StatusCode: resp.StatusCode, Message: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, string(respBody))}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &Error{Kind: FailurePermanent, StatusCode: resp.StatusCode, Message: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, string(respBody))}
	default:
		// Unrecognized 5xx: conservatively permanent, per spec classification.
		return &Error{Kind: FailurePermanent, StatusCode: resp.StatusCode, Message: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, string(respBody))}
	}
}
