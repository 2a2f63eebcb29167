package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	clientretry "k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// DefaultMaxConflictRetries bounds local retries of a single write.
const DefaultMaxConflictRetries = 10

// ConflictBackoff is the schedule used between conflicting writes.
var ConflictBackoff = wait.Backoff{
	Steps:    DefaultMaxConflictRetries,
	Duration: 10 * time.Millisecond,
	Factor:   1.0,
	Jitter:   0.1,
}

// IsRetriableWriteError reports whether a write failed because the caller's
// copy was stale (409) or the store asked to try again (422).
func IsRetriableWriteError(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsConflict(err) {
		return true
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return status.Status().Code == http.StatusUnprocessableEntity
	}
	return false
}

// Mutation changes obj in place and reports whether a write is needed.
type Mutation[T client.Object] func(obj T) bool

// OnConflict applies mutate to a copy of obj and writes it. When the write is
// rejected with a retriable error the latest version is fetched, the mutation
// re-applied and the write attempted again, up to backoff.Steps times.
//
// If mutate reports that nothing needs to change the current copy is returned
// without writing.
func OnConflict[T client.Object](
	ctx context.Context,
	backoff wait.Backoff,
	obj T,
	fetch func(ctx context.Context) (T, error),
	mutate Mutation[T],
	write func(ctx context.Context, obj T) (T, error),
) (T, error) {
	var result T
	current := obj.DeepCopyObject().(T)
	first := true

	err := clientretry.OnError(backoff, IsRetriableWriteError, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !first {
			latest, err := fetch(ctx)
			if err != nil {
				return err
			}
			current = latest.DeepCopyObject().(T)
		}
		first = false

		if !mutate(current) {
			result = current
			return nil
		}
		written, err := write(ctx, current)
		if err != nil {
			return err
		}
		result = written
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
