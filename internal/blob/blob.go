// Package blob abstracts the external file store for uploaded images and
// documents. The pipeline writes a blob once, before a job's input payload
// is finalized, and only ever references the returned URI afterwards.
package blob

import "context"

// Store persists uploaded bytes and returns a stable URI for them.
type Store interface {
	Put(ctx context.Context, data []byte, ext string) (string, error)
}
