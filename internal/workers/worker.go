package workers

// Worker is a background job owned by the Manager.
type Worker interface {
	// Start launches the worker and returns without blocking.
	Start() error
	// Stop ends the worker, waiting for a pass already in progress.
	Stop()
	Name() string
}
