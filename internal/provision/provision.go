// Package provision executes the effects returned by staging transitions:
// cloning the user's repository and spinning up the container, then fanning
// the result out into the message cache, the container list, and the durable
// backend.
package provision

import (
	"context"

	"github.com/quantumsenses/go-deploy-cache/internal/backend"
)

// RepoCloner clones (or pulls) a user's repository on the git host so the
// provisioner can build from it.
type RepoCloner interface {
	Clone(ctx context.Context, owner, repo string) error
}

// SpinUpRequest names the container to build and the repository it builds
// from. The container name is the registry-unique one; the repository keeps
// the user's original name.
type SpinUpRequest struct {
	ContainerName  string
	GitHubRepoName string
}

// SpinUpResult is the provisioner's answer: where the container landed.
type SpinUpResult struct {
	Host string `json:"host"`
	URL  string `json:"url"`
}

// Provisioner builds and starts a container.
type Provisioner interface {
	SpinUp(ctx context.Context, req SpinUpRequest, cred backend.Credential) (SpinUpResult, error)
}
