/*
Copyright 2025 The KubeFleet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package poll implements the bounded wait loops used for health checks and readiness waits.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"go.goms.io/fleetbed/pkg/utils/controller"
)

// Options bounds a wait loop.
type Options struct {
	// Attempts is the number of times the condition is evaluated.
	Attempts int
	// Interval is the fixed delay between two attempts.
	Interval time.Duration
	// Description names what is being waited for, in logs and errors.
	Description string
}

// Timeout returns the longest time a wait with these options can take.
func (o Options) Timeout() time.Duration {
	if o.Attempts <= 1 {
		return 0
	}
	return time.Duration(o.Attempts-1) * o.Interval
}

// ConditionFunc reports whether the wait is over. The observed string describes the last state seen
// and ends up in the timeout error. A non-nil error aborts the wait immediately.
type ConditionFunc func(ctx context.Context) (done bool, observed string, err error)

// Until evaluates cond up to opts.Attempts times, opts.Interval apart.
// Cancellation of ctx is only honored between attempts: an interval already started is slept
// through, and the wait then ends with the context error instead of evaluating cond again.
// Exhaustion yields an ErrTimeout error carrying the last observed state.
func Until(ctx context.Context, opts Options, cond ConditionFunc) error {
	if opts.Attempts < 1 {
		return fmt.Errorf("waiting for %s: attempts must be positive, got %d", opts.Description, opts.Attempts)
	}
	backoff := wait.Backoff{
		Duration: opts.Interval,
		Factor:   1,
		Steps:    opts.Attempts,
	}
	attempt := 0
	lastObserved := ""
	err := wait.ExponentialBackoffWithContext(context.WithoutCancel(ctx), backoff, func(context.Context) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("stopped waiting for %s after %d attempts: %w", opts.Description, attempt, err)
		}
		attempt++
		done, observed, err := cond(ctx)
		lastObserved = observed
		if err != nil {
			return false, err
		}
		if !done {
			klog.V(2).InfoS("Still waiting", "for", opts.Description, "attempt", attempt, "maxAttempts", opts.Attempts, "observed", observed)
		}
		return done, nil
	})
	switch {
	case err == nil:
		return nil
	case wait.Interrupted(err):
		return controller.NewTimeoutError(&ExhaustedError{Description: opts.Description, Attempts: attempt, LastObserved: lastObserved})
	default:
		return err
	}
}

// Within runs fn under a deadline of timeout, for programs that block until a condition holds.
// Expiry of the deadline, rather than cancellation of ctx, yields an ErrTimeout error.
func Within(ctx context.Context, timeout time.Duration, description string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fmt.Errorf("waiting for %s: timeout must be positive, got %s", description, timeout)
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		klog.V(2).InfoS("Gave up waiting", "for", description, "timeout", timeout, "err", err)
		return controller.NewTimeoutError(fmt.Errorf("gave up waiting for %s after %s: %w", description, timeout, err))
	}
	return err
}

// ExhaustedError describes a wait that ran out of attempts.
type ExhaustedError struct {
	Description  string
	Attempts     int
	LastObserved string
}

func (e *ExhaustedError) Error() string {
	if e.LastObserved == "" {
		return fmt.Sprintf("gave up waiting for %s after %d attempts", e.Description, e.Attempts)
	}
	return fmt.Sprintf("gave up waiting for %s after %d attempts, last observed: %s", e.Description, e.Attempts, e.LastObserved)
}

// LastObserved returns the last observed state carried by a timeout error, if any.
func LastObserved(err error) (string, bool) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.LastObserved, true
	}
	return "", false
}
