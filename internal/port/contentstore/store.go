// Package contentstore defines the port for the form-definition blob store.
package contentstore

import "context"

// Store reads immutable form documents. Implementations must return an
// error wrapping domain.ErrNotFound when the document does not exist,
// distinct from generic I/O failure, because the two map to different
// HTTP statuses at the boundary.
type Store interface {
	Read(ctx context.Context, formCode, fileName string) ([]byte, error)
}
