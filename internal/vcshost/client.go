// Package vcshost is a typed client for the version-control host: GitHub
// App installation-token issuance, PR creation, and repository metadata.
// Installation tokens authenticate git push; PR authorship always uses the
// prompting user's own access token, never the installation token.
package vcshost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
)

// Client wraps the GitHub REST API surface the coordinator needs.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	appSigner      *cryptoutil.AppJWTSigner
	installationID string
}

// NewClient builds a vcshost client. appSigner may be nil if the coordinator
// is only ever going to act with user-scoped tokens (tests, for instance).
func NewClient(baseURL string, appSigner *cryptoutil.AppJWTSigner, installationID string) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		appSigner:      appSigner,
		installationID: installationID,
	}
}

// InstallationToken is the short-lived push-scoped token minted from the
// shared GitHub App installation.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MintInstallationToken exchanges a fresh RS256 app JWT for an
// installation-scoped access token. The token is used only to authenticate
// the sandbox's git push, never for PR authorship.
func (c *Client) MintInstallationToken(ctx context.Context) (*InstallationToken, error) {
	if c.appSigner == nil {
		return nil, fmt.Errorf("vcshost: no app signer configured")
	}
	assertion, err := c.appSigner.Mint(time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to mint app assertion: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/app/installations/"+c.installationID+"/access_tokens", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build installation token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	var out InstallationToken
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("failed to mint installation token: %w", err)
	}
	return &out, nil
}

// RepoInfo is the subset of repository metadata the coordinator consumes.
type RepoInfo struct {
	DefaultBranch string `json:"default_branch"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
}

// GetRepo fetches repository metadata using the prompting user's access
// token.
func (c *Client) GetRepo(ctx context.Context, userToken, owner, repo string) (*RepoInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/repos/"+owner+"/"+repo, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build repo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	var out RepoInfo
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch repo metadata: %w", err)
	}
	return &out, nil
}

// CreatePRRequest describes a pull request to open.
type CreatePRRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body,omitempty"`
}

// PullRequest is the subset of the PR-create response the coordinator
// persists as an Artifact.
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// CreatePR opens a pull request using the prompting user's own access
// token; the installation token authenticates git push only, per the
// authorship rule that keeps PRs attributed to the human who asked for
// them.
func (c *Client) CreatePR(ctx context.Context, userToken, owner, repo string, pr CreatePRRequest) (*PullRequest, error) {
	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PR request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/repos/"+owner+"/"+repo+"/pulls", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build PR create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	var out PullRequest
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vcshost returned %s: %s", strconv.Itoa(resp.StatusCode), string(body))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode vcshost response: %w", err)
		}
	}
	return nil
}
