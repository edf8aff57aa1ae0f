// Package llm provides the client contract for the external LLM service,
// an OpenAI-compatible HTTP implementation with retry and cooperative
// cancellation, and the debug sink recording every call.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCancelled is the distinguished cancellation value. Every cancellation
// path in the client and the pipeline returns an error wrapping it, and it
// propagates up the stack unchanged until the run manager records the
// cancelled terminal state.
var ErrCancelled = errors.New("pipeline cancelled")

// ErrUnavailable indicates the LLM endpoint could not be reached after all
// retry attempts.
var ErrUnavailable = errors.New("llm service unavailable")

// DefaultTimeout bounds a single LLM HTTP call.
const DefaultTimeout = 120 * time.Second

// Client is the contract the domain engines consume. The context carries
// the run's cancel latch; implementations check it between retry attempts
// and immediately before each HTTP call. In-flight calls are not preempted;
// the per-call timeout bounds them.
type Client interface {
	// Generate sends a prompt and returns the raw completion text.
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStructured asks for a single JSON object conforming to
	// schemaJSON, parses and validates the response, and unmarshals it into
	// out. On a malformed response it makes one repair attempt by extracting
	// the outermost brace block before failing. Validation failures after a
	// successful HTTP response are not retried.
	GenerateStructured(ctx context.Context, prompt string, schemaJSON string, out any) error

	// IsAvailable is a cheap round-trip probe.
	IsAvailable(ctx context.Context) bool
}

// EscapePromptContent neutralizes occurrences of the wrapper tag inside
// user-supplied text so document or term content cannot close the tag the
// prompt wraps it in.
func EscapePromptContent(text, wrapperTag string) string {
	replacer := strings.NewReplacer(
		"<"+wrapperTag+">", "&lt;"+wrapperTag+"&gt;",
		"</"+wrapperTag+">", "&lt;/"+wrapperTag+"&gt;",
	)
	return replacer.Replace(text)
}
