// Package lock serializes event processing per entity key.
package lock

import "context"

// Locker acquires an exclusive lock on a key. The returned func releases it
// and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
