// Package objectstore persists run artifacts: the Outputs tree, backup
// archives and run logs, keyed by run id inside their buckets.
package objectstore

import "context"

// Store is the slice of S3-compatible storage the upload stages need. The
// pipeline only ever pushes whole files from disk; nothing reads artifacts
// back.
type Store interface {
	PutFile(ctx context.Context, bucket, key, path, contentType string) error
}
