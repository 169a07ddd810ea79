package usecase

import (
	"context"
	"errors"
	"io"
	"time"

	"sealreg/internal/domain"

	"github.com/sirupsen/logrus"
)

const defaultDependencyTimeout = 10 * time.Second

// callWithTimeout runs fn against a collaborator under a bounded deadline and
// folds every failure into a retryable DependencyError.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, code, what string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = defaultDependencyTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := fn(cctx)
	if err == nil {
		return out, nil
	}
	var zero T
	return zero, dependencyError(code, what, err)
}

func dependencyError(code, what string, err error) error {
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Dependency(domain.CodeDependencyTimeout, what+" timed out", err)
	}
	return domain.Dependency(code, what+" failed", err)
}

func nopLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func systemNow() time.Time {
	return time.Now().UTC()
}
