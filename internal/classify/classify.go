// Package classify maps runner failures to the closed error taxonomy and
// decides retry policy and backoff.
package classify

import (
	"strings"
	"time"

	"github.com/pablasso/taskd/internal/task"
)

// Classify normalizes err's message and returns the first matching
// taxonomy value in spec order. Dynamic error shapes (plain strings,
// wrapped errors with nested message/data/error text) are tolerated by
// matching on err.Error(), which already flattens wrapped errors.
func Classify(err error) task.ErrorType {
	if err == nil {
		return task.ErrorUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate") && strings.Contains(msg, "limit"):
		return task.ErrorRateLimit
	case strings.Contains(msg, "context") && containsAny(msg, "length", "window", "exceeded"):
		return task.ErrorContextExceeded
	case strings.Contains(msg, "agent") && containsAny(msg, "not found", "undefined"):
		return task.ErrorAgentNotFound
	case strings.Contains(msg, "tool_use") && strings.Contains(msg, "tool_result"):
		return task.ErrorToolResultMissing
	case strings.Contains(msg, "thinking") && containsAny(msg, "block", "disabled"):
		return task.ErrorThinkingBlock
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return task.ErrorTimeout
	default:
		return task.ErrorUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether errType should never be retried.
func IsPermanent(errType task.ErrorType) bool {
	return errType == task.ErrorContextExceeded || errType == task.ErrorAgentNotFound
}

// NeedsToolResultRecovery reports whether errType should first attempt the
// one-shot InjectToolResults recovery before counting against the retry
// budget.
func NeedsToolResultRecovery(errType task.ErrorType) bool {
	return errType == task.ErrorToolResultMissing
}

const (
	backoffBase = 30 * time.Second
	backoffCap  = 600 * time.Second
)

// Backoff computes delay = min(30 * 2^retryCount, 600) seconds.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := backoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}
