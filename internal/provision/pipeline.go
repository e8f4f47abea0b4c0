// Pipeline runs the effect list a staging transition returns. Effects run in
// order; a clone failure aborts everything after it, because provisioning a
// container whose repository never landed produces a dead deployment.
package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumsenses/go-deploy-cache/internal/backend"
	"github.com/quantumsenses/go-deploy-cache/internal/cache"
	"github.com/quantumsenses/go-deploy-cache/internal/domain"
)

// dockerResponseMarker is the sentinel user-side content of the synthetic
// message that carries the provisioning result into the conversation. The
// frontend watches for it to stop its polling spinner.
const dockerResponseMarker = "$DOCKERRESPONSEEND$"

// Pipeline wires the provisioning collaborators together.
type Pipeline struct {
	Cloner      RepoCloner
	Provisioner Provisioner
	Messages    *cache.MessageCache
	Containers  *cache.ContainerCache
	Creds       backend.CredentialProvider
	Writer      backend.ContainerWriter
	Specs       backend.SpecsWriter

	// now is swappable for tests.
	now func() time.Time
}

// NewPipeline builds a Pipeline.
func NewPipeline(cloner RepoCloner, prov Provisioner, msgs *cache.MessageCache, containers *cache.ContainerCache, creds backend.CredentialProvider, writer backend.ContainerWriter, specs backend.SpecsWriter) *Pipeline {
	return &Pipeline{
		Cloner:      cloner,
		Provisioner: prov,
		Messages:    msgs,
		Containers:  containers,
		Creds:       creds,
		Writer:      writer,
		Specs:       specs,
		now:         time.Now,
	}
}

// Execute runs the effects in order. The first failure stops execution and
// is returned; effects already run are not rolled back.
func (p *Pipeline) Execute(ctx context.Context, effects []cache.StagingEffect) error {
	for _, eff := range effects {
		switch e := eff.(type) {
		case cache.CloneRepository:
			if err := p.Cloner.Clone(ctx, e.Owner, e.RepoName); err != nil {
				log.Error().Err(err).
					Str("owner", e.Owner).
					Str("repo", e.RepoName).
					Msg("repository clone failed, aborting provisioning")
				return err
			}
		case cache.TriggerProvisioning:
			if err := p.trigger(ctx, e); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown staging effect %T", eff)
		}
	}
	return nil
}

// trigger spins up the container and fans the result out: a synthetic
// message in the conversation, a record in the owner's container list, and
// durable create-plus-specs calls. The specs write is skipped silently when
// the staging record never completed both phases.
func (p *Pipeline) trigger(ctx context.Context, e cache.TriggerProvisioning) error {
	tr := otel.Tracer("provision/Pipeline")
	ctx, span := tr.Start(ctx, "Trigger",
		trace.WithAttributes(
			attribute.String("owner", e.Owner),
			attribute.String("container", e.UniqueName),
		),
	)
	defer span.End()

	cred, err := p.Creds.Obtain(ctx)
	if err != nil {
		return fmt.Errorf("obtain credential: %w", err)
	}

	result, err := p.Provisioner.SpinUp(ctx, SpinUpRequest{
		ContainerName:  e.UniqueName,
		GitHubRepoName: e.OriginalRepoName,
	}, cred)
	if err != nil {
		return err
	}

	// The result lands in the conversation whether or not it is usable;
	// the completeness check below only gates the fan-out.
	synthetic := domain.ChatMessage{
		Assistant: fmt.Sprintf(`{"host": %q, "url": %q}`, result.Host, result.URL),
		User:      dockerResponseMarker,
	}
	if err := p.Messages.Append(ctx, e.Owner, e.Topic, synthetic); err != nil {
		return fmt.Errorf("append provisioning result: %w", err)
	}

	if result.URL == "" || result.Host == "" {
		return fmt.Errorf("spinup %s: response missing host or url", e.UniqueName)
	}

	record := domain.ContainerRecord{
		Name:        e.UniqueName,
		URL:         result.URL,
		CreatedTime: p.now().UTC().Format(time.RFC3339),
		Running:     true,
	}
	if err := p.Containers.Upsert(ctx, e.Owner, record); err != nil {
		return fmt.Errorf("record container %s: %w", e.UniqueName, err)
	}

	if err := p.Writer.CreateContainer(ctx, e.Owner, e.UniqueName, result.URL, result.Host, cred); err != nil {
		return err
	}

	if !e.Record.Complete() {
		log.Debug().
			Str("owner", e.Owner).
			Str("container", e.UniqueName).
			Msg("staging record incomplete, skipping specs write")
		return nil
	}
	if err := p.Specs.WriteSpecs(ctx, e.UniqueName, e.Record, cred); err != nil {
		return err
	}

	log.Info().
		Str("owner", e.Owner).
		Str("container", e.UniqueName).
		Str("url", result.URL).
		Msg("container provisioned")
	return nil
}
