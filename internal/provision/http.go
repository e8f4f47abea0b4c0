// HTTP implementations of the git-host cloner and the container provisioner.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quantumsenses/go-deploy-cache/internal/backend"
)

// HTTPRepoCloner hits the git host's clone-or-pull endpoint. The endpoint is
// idempotent on the host side: an already-cloned repository is pulled.
type HTTPRepoCloner struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPRepoCloner builds a cloner for the given git host base URL.
func NewHTTPRepoCloner(baseURL string) *HTTPRepoCloner {
	// Clones can be slow on cold repositories.
	return &HTTPRepoCloner{BaseURL: baseURL, Client: &http.Client{Timeout: 120 * time.Second}}
}

// Clone requests a clone-or-pull of owner's repo.
func (c *HTTPRepoCloner) Clone(ctx context.Context, owner, repo string) error {
	endpoint := fmt.Sprintf("%s/clone_or_pull_repos/%s/%s",
		c.BaseURL, url.PathEscape(owner), url.PathEscape(repo))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("clone request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("clone %s/%s: %w", owner, repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("clone %s/%s: status %d: %s", owner, repo, resp.StatusCode, body)
	}
	return nil
}

// HTTPProvisioner talks to the container orchestrator's spin-up endpoint.
type HTTPProvisioner struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPProvisioner builds a provisioner for the orchestrator base URL.
func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	// Image builds take a while.
	return &HTTPProvisioner{BaseURL: baseURL, Client: &http.Client{Timeout: 300 * time.Second}}
}

// spinUpPayload is the orchestrator's request shape. The image name and
// network are fixed: the orchestrator currently builds everything on the
// react base image inside the shared network, whatever stack was staged.
type spinUpPayload struct {
	ContainerName  string `json:"container_name"`
	ImageName      string `json:"image_name"`
	Network        string `json:"network"`
	GitHubRepoName string `json:"github_repo_name"`
}

// SpinUp builds and starts the container and returns its host and URL.
func (p *HTTPProvisioner) SpinUp(ctx context.Context, in SpinUpRequest, cred backend.Credential) (SpinUpResult, error) {
	payload, _ := json.Marshal(spinUpPayload{
		ContainerName:  in.ContainerName,
		ImageName:      "react",
		Network:        "hackniche",
		GitHubRepoName: in.GitHubRepoName,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/container/spinup-container/", bytes.NewReader(payload))
	if err != nil {
		return SpinUpResult{}, fmt.Errorf("spinup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Access)

	resp, err := p.Client.Do(req)
	if err != nil {
		return SpinUpResult{}, fmt.Errorf("spinup %s: %w", in.ContainerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return SpinUpResult{}, fmt.Errorf("spinup %s: status %d: %s", in.ContainerName, resp.StatusCode, body)
	}

	var out SpinUpResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SpinUpResult{}, fmt.Errorf("spinup %s: decode response: %w", in.ContainerName, err)
	}
	return out, nil
}
