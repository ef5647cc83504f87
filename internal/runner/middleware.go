package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// HTTPError represents an HTTP request failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to error classifiers.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// loggingRequester wraps a Requester with failure logging.
type loggingRequester struct {
	inner Requester
	log   func(msg string, fields ...zap.Field)
}

// WithLogging wraps a Requester to log failed iterations. Failures are logged
// at warn level when verbose is set and at debug level otherwise.
func WithLogging(req Requester, logger *zap.Logger, verbose bool) Requester {
	if logger == nil {
		return req
	}
	log := logger.Debug
	if verbose {
		log = logger.Warn
	}
	return &loggingRequester{inner: req, log: log}
}

func (l *loggingRequester) Do(ctx context.Context) error {
	err := l.inner.Do(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	fields := []zap.Field{zap.Error(err)}
	if vu, ok := VUFromContext(ctx); ok {
		fields = append(fields, zap.Int("vu", vu.ID), zap.Int64("iteration", vu.Iteration))
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		fields = append(fields, zap.Int("status", httpErr.StatusCode))
	}
	l.log("request failed", fields...)
	return err
}
