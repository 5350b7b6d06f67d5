package nlp

import "errors"

// Gateway error kinds. Callers branch with errors.Is; the gateway does
// not retry on its own, so transient kinds surface to the caller as-is.
var (
	// ErrRateLimit indicates the provider rejected the call with a 429.
	ErrRateLimit = errors.New("language model rate limit exceeded")

	// ErrRefusal indicates the model declined to answer the prompt.
	ErrRefusal = errors.New("language model refused the prompt")

	// ErrEmptyResponse indicates the provider returned no usable content.
	ErrEmptyResponse = errors.New("language model returned an empty response")

	// ErrUpstreamTimeout indicates the call exceeded the configured
	// request timeout.
	ErrUpstreamTimeout = errors.New("language model request timed out")

	// ErrUpstreamProtocol indicates the model's output could not be
	// parsed against the requested schema, even after repair.
	ErrUpstreamProtocol = errors.New("language model response violated the output schema")
)

// RateLimitError carries the provider's own rate-limit message.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return ErrRateLimit.Error()
	}
	return e.Message
}

// Is lets errors.Is match both the typed error and the sentinel.
func (e *RateLimitError) Is(target error) bool {
	if _, ok := target.(*RateLimitError); ok {
		return true
	}
	return target == ErrRateLimit
}

// SchemaError reports a structured-output parse failure with the raw
// content that failed, for debugging prompt regressions.
type SchemaError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *SchemaError) Error() string {
	return "structured output for schema " + e.Schema + ": " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error { return ErrUpstreamProtocol }
