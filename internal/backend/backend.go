// Package backend defines the durable system-of-record collaborators the
// cache core reconciles against, plus two implementations: an HTTP client
// for the hosted chats API and an embedded SQLite store for single-node
// deployments and tests.
package backend

import (
	"context"
	"errors"

	"github.com/quantumsenses/go-deploy-cache/internal/domain"
)

// ErrBackendFailure wraps any durable-backend error. For the reconciler this
// class of failure is never fatal: the affected topic is logged and retried
// on the next cycle.
var ErrBackendFailure = errors.New("durable backend failure")

// Credential authorizes calls to the durable backend. Credentials are short
// lived; the reconciler obtains a fresh one per owner per cycle and never
// caches them.
type Credential struct {
	Access  string
	Refresh string
}

// CredentialProvider issues service credentials for backend calls.
type CredentialProvider interface {
	Obtain(ctx context.Context) (Credential, error)
}

// DurableBackend is the system of record for chat conversations.
type DurableBackend interface {
	// FetchMessages returns the full conversation for (owner, topic),
	// used to hydrate the cache on a miss.
	FetchMessages(ctx context.Context, owner, topic string, cred Credential) ([]domain.ChatMessage, error)

	// PersistBatch appends the given turns to (owner, topic). One call per
	// topic; the turns arrive in conversation order, user before assistant
	// within each exchange.
	PersistBatch(ctx context.Context, owner, topic string, turns []domain.Turn, cred Credential) error
}

// SpecsWriter records the resource specification of a provisioned container
// durably. Used by the provisioning pipeline once a staging record is
// complete.
type SpecsWriter interface {
	WriteSpecs(ctx context.Context, containerName string, rec domain.StagingRecord, cred Credential) error
}

// ContainerWriter records a newly provisioned container durably.
type ContainerWriter interface {
	CreateContainer(ctx context.Context, owner, name, url, host string, cred Credential) error
}
