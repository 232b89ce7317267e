package crawl

// State is the lifecycle position of one page or entity.
//
// The runner reports the fetch-side states. Duplicate, Buffered and Flushed are reached inside the
// ingest pipeline after the record is submitted.
type State int

// Lifecycle states.
const (
	StateDiscovered State = iota
	StateFetchPending
	StateFetched
	StateExtracted
	StateDuplicate
	StateBuffered
	StateFlushed
	StateFetchFailed
	StateRetryPending
	StateFetchFailedTerminal
)

var stateNames = [...]string{
	StateDiscovered:          "discovered",
	StateFetchPending:        "fetch_pending",
	StateFetched:             "fetched",
	StateExtracted:           "extracted",
	StateDuplicate:           "duplicate",
	StateBuffered:            "buffered",
	StateFlushed:             "flushed",
	StateFetchFailed:         "fetch_failed",
	StateRetryPending:        "retry_pending",
	StateFetchFailedTerminal: "fetch_failed_terminal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateDuplicate, StateFlushed, StateFetchFailedTerminal:
		return true
	default:
		return false
	}
}
