package pool

import "github.com/pkg/errors"

// ErrOutOfMemory is returned by Allocate when no free run on the list is
// large enough to satisfy the request. Pool state is unchanged; the
// caller may retry after freeing other regions. This and the
// construction-time errors New returns (invalid size or block size, or
// arena-acquisition failure) are the only errors the core surfaces; Free
// has no defined error path.
var ErrOutOfMemory = errors.New("pool: out of memory")
