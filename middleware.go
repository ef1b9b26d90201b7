package toolstream

import (
	"log/slog"
	"time"
)

// DecodeFunc is the pool's unit of work: one ParseJob resolved to one
// ParseResult.
type DecodeFunc func(ParseJob) ParseResult

// DecodeMiddleware wraps a DecodeFunc with cross-cutting behavior
// (logging, recovery). The pool applies the chain to every job on both
// the pooled and the inline path, so the two stay behaviorally
// identical.
type DecodeMiddleware func(DecodeFunc) DecodeFunc

// WithDecodeLogging returns a middleware that logs each job's hint,
// outcome kind, and duration.
func WithDecodeLogging(logger *slog.Logger) DecodeMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next DecodeFunc) DecodeFunc {
		return func(job ParseJob) ParseResult {
			start := time.Now()
			res := next(job)
			dur := time.Since(start)
			if res.Err != nil {
				logger.Warn("parse job failed",
					"job", job.ID, "hint", job.Hint.String(),
					"kind", res.Kind.String(), "duration", dur, "error", res.Err)
				return res
			}
			logger.Debug("parse job resolved",
				"job", job.ID, "hint", job.Hint.String(),
				"kind", res.Kind.String(), "calls", len(res.Calls), "duration", dur)
			return res
		}
	}
}

// WithDecodeRecovery returns a middleware that converts a panicking
// decode into a ResultCrash outcome, isolating the fault to that job.
func WithDecodeRecovery() DecodeMiddleware {
	return func(next DecodeFunc) DecodeFunc {
		return func(job ParseJob) (res ParseResult) {
			defer func() {
				if p := recover(); p != nil {
					res = ParseResult{
						Kind:   ResultCrash,
						Format: job.Hint,
						Err:    &SystemError{Err: &panicError{p: p}},
					}
				}
			}()
			return next(job)
		}
	}
}
