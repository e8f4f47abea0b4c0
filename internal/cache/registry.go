// Container name registry: per-owner list of every container name ever
// allocated, used to disambiguate requested names deterministically.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"

	"github.com/quantumsenses/go-deploy-cache/internal/keys"
	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// NameRegistry allocates unique container names per owner.
//
// Allocated names are never released: the registry grows monotonically even
// when the corresponding container is later deleted, so a name once used is
// burned forever. This is a known resource leak inherited from the deployed
// system; pruning would change which suffixes future allocations receive.
type NameRegistry struct {
	Store store.Store
}

// NewNameRegistry builds a NameRegistry over the shared store.
func NewNameRegistry(st store.Store) *NameRegistry {
	return &NameRegistry{Store: st}
}

// suffixRE matches a trailing -<digits> disambiguation suffix.
var suffixRE = regexp.MustCompile(`-(\d+)$`)

// AllocateUnique resolves requested into a name not yet present in the
// owner's registry by appending -1, -2, ... until it is free, records the
// result, and returns it. The registry key is written without a TTL so
// allocations survive cache churn.
func (r *NameRegistry) AllocateUnique(ctx context.Context, owner, requested string) (string, error) {
	key := keys.Containers(owner)

	var names []string
	raw, err := r.Store.Get(ctx, key)
	switch {
	case err == store.ErrNotFound:
		// first allocation for this owner
	case err != nil:
		return "", err
	default:
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			log.Error().Err(err).Str("key", key).Msg("corrupt name registry in cache")
			return "", fmt.Errorf("%w: key %s", ErrMalformedData, key)
		}
	}

	taken := make(map[string]struct{}, len(names))
	for _, n := range names {
		taken[n] = struct{}{}
	}

	unique := requested
	for count := 1; ; count++ {
		if _, exists := taken[unique]; !exists {
			break
		}
		unique = fmt.Sprintf("%s-%d", requested, count)
	}

	names = append(names, unique)
	payload, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode name registry for %s: %w", owner, err)
	}
	if err := r.Store.Set(ctx, key, string(payload)); err != nil {
		return "", err
	}
	return unique, nil
}

// ResolveOriginal strips a trailing -<digits> suffix from a unique name,
// recovering the name the user originally requested (git repositories are
// stored under the original name). This is a pure string rule and does not
// consult the registry: a user-chosen name that legitimately ends in
// -<digits> is stripped too. Ambiguous by design in the deployed system.
func ResolveOriginal(uniqueName string) string {
	if m := suffixRE.FindString(uniqueName); m != "" {
		return uniqueName[:len(uniqueName)-len(m)]
	}
	return uniqueName
}
