// Package cache implements the write-through caches for chat messages,
// container metadata, provisioning staging data, and the container name
// registry. This file centralizes the error values the cache layer returns
// so callers can branch with errors.Is.
//
// Taxonomy:
//   - ErrNotFound: cache miss. Not a failure; callers fall back to the
//     durable backend.
//   - store.ErrUnavailable (wrapped): the store could not be reached. The
//     enclosing operation failed and must not be reported as success.
//   - ErrMalformedData: a cached value failed to parse. Logged as data
//     corruption and otherwise treated like a miss by read paths.
package cache

import (
	"fmt"

	"github.com/quantumsenses/go-deploy-cache/internal/store"
)

// ErrNotFound aliases store.ErrNotFound for convenience, mirroring how the
// store reports a missing key. A miss is distinct from an empty list: an
// empty list is a present value.
var ErrNotFound = store.ErrNotFound

// ErrMalformedData indicates a cached value could not be decoded. It wraps
// ErrNotFound so read paths that fall back on errors.Is(err, ErrNotFound)
// also fall back on corruption, while callers that care can still single it
// out with errors.Is(err, ErrMalformedData).
var ErrMalformedData = fmt.Errorf("malformed cached data: %w", ErrNotFound)
