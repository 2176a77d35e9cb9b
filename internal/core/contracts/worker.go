package contracts

import "context"

// AsyncWorker is a background job owned by the process lifecycle.
type AsyncWorker interface {
	// Run blocks until ctx is cancelled.
	Run(ctx context.Context) error
}
