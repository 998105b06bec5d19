package rewrite

import "errors"

var (
	// ErrTimeout indicates the generative pass exceeded its deadline.
	// Recoverable: callers receive the original query via fallback.
	ErrTimeout = errors.New("rewrite: generative pass timed out")

	// ErrLowConfidence indicates the generative rewrite came back below the
	// configured confidence threshold. Recoverable via fallback.
	ErrLowConfidence = errors.New("rewrite: confidence below threshold")

	// ErrMalformedResponse indicates the generative service returned output
	// that could not be parsed into a structured rewrite.
	ErrMalformedResponse = errors.New("rewrite: malformed generative response")
)
