package domain

// Status is the process-wide service state.
type Status string

const (
	StatusLoading             Status = "loading"
	StatusComputingEmbeddings Status = "computing_embeddings"
	StatusReady               Status = "ready"
	StatusRefreshing          Status = "refreshing"
)

// Serving reports whether the corpus is complete enough to answer queries.
// A runtime rebuild keeps serving the previous corpus.
func (s Status) Serving() bool {
	return s == StatusReady || s == StatusRefreshing
}

// Ordinal maps the status to a stable number for the status gauge.
func (s Status) Ordinal() float64 {
	switch s {
	case StatusLoading:
		return 0
	case StatusComputingEmbeddings:
		return 1
	case StatusReady:
		return 2
	case StatusRefreshing:
		return 3
	}
	return -1
}
