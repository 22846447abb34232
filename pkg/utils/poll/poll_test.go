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

package poll

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.goms.io/fleetbed/pkg/utils/controller"
)

func TestUntil(t *testing.T) {
	abort := errors.New("abort")
	tests := []struct {
		name         string
		attempts     int
		doneAt       int
		failAt       int
		wantErr      error
		wantCalls    int
		wantObserved string
	}{
		{name: "done at first attempt", attempts: 3, doneAt: 1, wantCalls: 1},
		{name: "done at last attempt", attempts: 3, doneAt: 3, wantCalls: 3},
		{name: "exhausted", attempts: 3, wantErr: controller.ErrTimeout, wantCalls: 3, wantObserved: "NotReady #3"},
		{name: "condition error aborts", attempts: 5, failAt: 2, wantErr: abort, wantCalls: 2},
		{name: "zero attempts", attempts: 0, wantErr: nil, wantCalls: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			opts := Options{Attempts: tc.attempts, Interval: time.Millisecond, Description: "member1 Ready"}
			err := Until(context.Background(), opts, func(_ context.Context) (bool, string, error) {
				calls++
				if calls == tc.failAt {
					return false, "", abort
				}
				return calls == tc.doneAt, fmt.Sprintf("NotReady #%d", calls), nil
			})
			if tc.attempts == 0 {
				if err == nil {
					t.Fatalf("Until() with zero attempts = nil, want error")
				}
				return
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("Until() = %v, want nil", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("Until() = %v, want %v", err, tc.wantErr)
			}
			if calls != tc.wantCalls {
				t.Errorf("condition called %d times, want %d", calls, tc.wantCalls)
			}
			if tc.wantObserved != "" {
				if got, ok := LastObserved(err); !ok || got != tc.wantObserved {
					t.Errorf("LastObserved() = (%q, %v), want (%q, true)", got, ok, tc.wantObserved)
				}
			}
		})
	}
}

func TestUntilStopsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	err := Until(ctx, Options{Attempts: 5, Interval: time.Millisecond, Description: "api"}, func(_ context.Context) (bool, string, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Until() = %v, want %v", err, context.Canceled)
	}
	if errors.Is(err, controller.ErrTimeout) {
		t.Errorf("Until() = %v, a cancelled wait is not a timeout", err)
	}
	if calls != 2 {
		t.Errorf("condition called %d times, want 2", calls)
	}
}

func TestWithin(t *testing.T) {
	blockUntilDone := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	t.Run("returns what fn returns", func(t *testing.T) {
		if err := Within(context.Background(), time.Second, "ready", func(context.Context) error { return nil }); err != nil {
			t.Fatalf("Within() = %v, want nil", err)
		}
	})
	t.Run("deadline is a timeout", func(t *testing.T) {
		err := Within(context.Background(), 10*time.Millisecond, "ready", blockUntilDone)
		if !errors.Is(err, controller.ErrTimeout) {
			t.Fatalf("Within() = %v, want %v", err, controller.ErrTimeout)
		}
	})
	t.Run("cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Within(ctx, time.Minute, "ready", blockUntilDone)
		if !errors.Is(err, context.Canceled) || errors.Is(err, controller.ErrTimeout) {
			t.Fatalf("Within() = %v, want %v only", err, context.Canceled)
		}
	})
	t.Run("unbounded wait is refused", func(t *testing.T) {
		if err := Within(context.Background(), 0, "ready", blockUntilDone); err == nil {
			t.Fatalf("Within() with no timeout = nil, want error")
		}
	})
}

func TestOptionsTimeout(t *testing.T) {
	opts := Options{Attempts: 12, Interval: 10 * time.Second}
	if got, want := opts.Timeout(), 110*time.Second; got != want {
		t.Errorf("Timeout() = %v, want %v", got, want)
	}
}
