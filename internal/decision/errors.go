package decision

import "errors"

var (
	// ErrScoringTimeout indicates the generative scoring call exceeded its
	// budget. Recoverable once via retry, then the engine degrades to
	// heuristic-only scoring.
	ErrScoringTimeout = errors.New("decision: generative scoring timed out")

	// ErrMalformedScoring indicates the model returned output that does not
	// parse into dimension scores.
	ErrMalformedScoring = errors.New("decision: malformed scoring response")

	// ErrPersonaSpecMissing is fatal for the turn. There is no sensible
	// default persona, so the caller gets a clear error instead of a silent
	// substitute.
	ErrPersonaSpecMissing = errors.New("decision: persona spec missing")
)
