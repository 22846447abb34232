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

// Package controller holds the error taxonomy shared by every fleet lifecycle component.
package controller

import (
	"errors"
	"fmt"
)

var (
	// ErrPrereqMissing indicates that a required host tool, file or resource is not present.
	// Nothing is mutated when this error is returned.
	ErrPrereqMissing = errors.New("prerequisite missing")

	// ErrTransientUnready indicates that a member or the control plane did not reach the
	// desired readiness within the bounded wait; retrying later may succeed.
	ErrTransientUnready = errors.New("transient unready")

	// ErrInconsistentState indicates that the observed world disagrees with what the fleet
	// model expects, e.g. a credential file without the expected server line.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrCommandFailure indicates that an external command exited with a non-zero status.
	ErrCommandFailure = errors.New("command failure")

	// ErrTimeout indicates that a bounded poll ran out of attempts.
	ErrTimeout = errors.New("timeout")
)

// NewPrereqMissingError returns ErrPrereqMissing type error when err is not nil.
func NewPrereqMissingError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPrereqMissing, err)
	}
	return nil
}

// NewTransientUnreadyError returns ErrTransientUnready type error when err is not nil.
func NewTransientUnreadyError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransientUnready, err)
	}
	return nil
}

// NewInconsistentStateError returns ErrInconsistentState type error when err is not nil.
func NewInconsistentStateError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInconsistentState, err)
	}
	return nil
}

// NewCommandFailureError returns ErrCommandFailure type error when err is not nil.
func NewCommandFailureError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommandFailure, err)
	}
	return nil
}

// NewTimeoutError returns ErrTimeout type error when err is not nil.
func NewTimeoutError(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return nil
}

// Kind reports which sentinel err wraps, or "Unknown" when it wraps none of them.
// It is used as a metric and log label.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPrereqMissing):
		return "PrereqMissing"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrTransientUnready):
		return "TransientUnready"
	case errors.Is(err, ErrInconsistentState):
		return "InconsistentState"
	case errors.Is(err, ErrCommandFailure):
		return "CommandFailure"
	default:
		return "Unknown"
	}
}
