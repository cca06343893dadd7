/*
Copyright 2024 The Numaproj Authors.

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

package operator

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by a stage that receives input after it was disposed.
var ErrDisposed = errors.New("stage is disposed")

// OutOfOrderErr is a fatal ordering violation: a row would be emitted, or was received, below the
// progress already guaranteed.
type OutOfOrderErr struct {
	Stage     string
	SyncTime  int64
	Watermark int64
	Message   string
}

func (e OutOfOrderErr) Error() string {
	return fmt.Sprintf("(%s) %s, sync time %d is below %d", e.Stage, e.Message, e.SyncTime, e.Watermark)
}

// InvariantErr is a programming error such as an unexpected window shape or event kind.
type InvariantErr struct {
	Stage   string
	Message string
}

func (e InvariantErr) Error() string {
	return fmt.Sprintf("(%s) %s", e.Stage, e.Message)
}

// IsOutOfOrder returns true if err wraps an OutOfOrderErr.
func IsOutOfOrder(err error) bool {
	var e OutOfOrderErr
	return errors.As(err, &e)
}

// IsInvariant returns true if err wraps an InvariantErr.
func IsInvariant(err error) bool {
	var e InvariantErr
	return errors.As(err, &e)
}
