/*
Copyright 2019 Intel Corporation

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

// Package crerrors implements the error taxonomy for the
// consumable-resource core: sentinel errors wrapped with call-site
// context via github.com/pkg/errors.
package crerrors

import (
	"github.com/pkg/errors"
)

// Sentinel errors covering the core's error taxonomy.
var (
	// ErrBadArgument is returned for null/empty job resources, a
	// same-id merge request, or an invalid node index. No state change.
	ErrBadArgument = errors.New("bad argument")
	// ErrNotFound is returned when a job is not present in the
	// expected partition or row. No state change.
	ErrNotFound = errors.New("not found")
	// ErrInvariantUnderflow marks a memory or state counter that would
	// have gone negative; the caller still saturates at zero and continues.
	ErrInvariantUnderflow = errors.New("invariant underflow")
	// ErrCannotSatisfy is returned when a reservation/placement request
	// cannot be met; any partial result is rolled back by the caller.
	ErrCannotSatisfy = errors.New("cannot satisfy request")
	// ErrExcessRows marks a job that fits nowhere in its partition's
	// rows; should never occur when num_rows reflects policy.
	ErrExcessRows = errors.New("excess rows")
)

// Wrap attaches call-site context to a sentinel error.
func Wrap(sentinel error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel, format, args...)
}

// Is reports whether err wraps the given sentinel, via errors.Is semantics.
func Is(err, sentinel error) bool {
	return errors.Is(err, sentinel)
}
