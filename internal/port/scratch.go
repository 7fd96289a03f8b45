package port

// Scratch is the disposable file area owned by the pipeline.
type Scratch interface {
	CachePath(key string) string
	JobDir(jobID string) (string, error)
	RemoveJobDir(jobID string) error
	TempPath(dir, prefix, ext string) string
	Contains(path string) bool
	EnsureFree(minBytes uint64) error
}

// SourceWatcher reports changes to media source files.
type SourceWatcher interface {
	Watch(path string) error
	Unwatch(path string) error
}
