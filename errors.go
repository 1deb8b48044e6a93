package rankkit

import "errors"

// Sentinel errors for the pipeline stages. Wrapped causes are attached with
// fmt.Errorf("...: %w", ...); callers branch with errors.Is.
var (
	// ErrConfigInvalid reports a malformed or inconsistent configuration.
	// Construction fails; nothing runs with a bad config.
	ErrConfigInvalid = errors.New("rankkit: invalid configuration")

	// ErrInvalidInput reports a malformed search or feedback request.
	ErrInvalidInput = errors.New("rankkit: invalid input")

	// ErrRetrievalFailed reports that candidate retrieval produced no usable
	// result. The pipeline aborts; there is nothing to rank.
	ErrRetrievalFailed = errors.New("rankkit: retrieval failed")

	// ErrRerankFailed reports a cross-encoder failure. The pipeline degrades
	// to composite ordering instead of propagating it.
	ErrRerankFailed = errors.New("rankkit: rerank failed")

	// ErrStatsRead reports a statistics read failure. The pipeline degrades
	// to zero statistics (cold-start scoring) instead of propagating it.
	ErrStatsRead = errors.New("rankkit: statistics read failed")

	// ErrStatsWrite reports a statistics write failure. Feedback recording
	// surfaces it; background impression recording only logs it.
	ErrStatsWrite = errors.New("rankkit: statistics write failed")
)
