package sandbox

import (
	"context"
	"errors"
	"strings"
)

// Category buckets an execution-provider failure for retry and messaging
// decisions. Never persisted; attached to errors in flight only.
type Category string

const (
	// CategoryPermanent errors are never retried: bad auth, bad template,
	// invalid arguments, or a sandbox that is gone.
	CategoryPermanent Category = "permanent"
	// CategoryTransient errors get a standard backoff retry.
	CategoryTransient Category = "transient"
	// CategoryRateLimit errors get an extended backoff retry.
	CategoryRateLimit Category = "rate_limit"
	// CategoryDiskSpace errors are surfaced with remediation, no retry.
	CategoryDiskSpace Category = "disk_space"
	// CategoryCommandFailure is a non-zero exit: a normal result the agent
	// reasons about, never a system error.
	CategoryCommandFailure Category = "command_failure"
	// CategoryUnknown is anything unrecognized. Fail closed: no retry.
	CategoryUnknown Category = "unknown"
)

// permanentFragments are message-level quirks of providers that report
// structural conditions as plain errors. Checked only after every
// structural check has failed.
var permanentFragments = []string{
	"not running anymore",
	"sandbox was not found",
	"terminated",
	"paused and cannot accept commands",
}

// Classify maps any error from a Provider into a Category. Structural
// checks (errors.As) come first; substring matching is a best-effort
// fallback for known provider quirks and never overrides a structural match.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var (
		authErr     *AuthenticationError
		notFound    *NotFoundError
		badArg      *InvalidArgumentError
		badTemplate *TemplateError
		timeout     *TimeoutError
		rateLimit   *RateLimitError
		noSpace     *NotEnoughSpaceError
		cmdExit     *CommandExitError
	)

	switch {
	case errors.As(err, &authErr), errors.As(err, &notFound),
		errors.As(err, &badArg), errors.As(err, &badTemplate):
		return CategoryPermanent
	case errors.As(err, &rateLimit):
		return CategoryRateLimit
	case errors.As(err, &noSpace):
		return CategoryDiskSpace
	case errors.As(err, &cmdExit):
		return CategoryCommandFailure
	case errors.As(err, &timeout),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range permanentFragments {
		if strings.Contains(msg, frag) {
			return CategoryPermanent
		}
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return CategoryRateLimit
	}
	if strings.Contains(msg, "no space left on device") {
		return CategoryDiskSpace
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return CategoryTransient
	}

	return CategoryUnknown
}

// IsPermanent reports whether retrying could never succeed.
func IsPermanent(err error) bool {
	return Classify(err) == CategoryPermanent
}

// IsRateLimited reports whether the provider asked us to slow down.
func IsRateLimited(err error) bool {
	return Classify(err) == CategoryRateLimit
}

// Retryable reports whether the category permits another attempt.
func Retryable(c Category) bool {
	return c == CategoryTransient || c == CategoryRateLimit
}

// UserMessage renders an error for the chat surface. Returns "" for
// categories that should only be logged (command failures are tool output,
// unknown errors get the generic transient message after retries).
func UserMessage(err error) string {
	switch Classify(err) {
	case CategoryPermanent:
		return "The sandbox is no longer available. Start a new session to get a fresh one."
	case CategoryDiskSpace:
		return "The sandbox ran out of disk space. Delete files you no longer need, or start a new session."
	case CategoryTransient, CategoryRateLimit:
		return "The sandbox is temporarily unavailable. Try again in a moment."
	case CategoryCommandFailure:
		return ""
	default:
		return ""
	}
}
