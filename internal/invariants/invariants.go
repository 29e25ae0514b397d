// Copyright 2025 The Quill Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package invariants provides assertion helpers that are compiled away
// unless the "invariants" or "race" build tags are set.
package invariants

import "fmt"

// Assertf panics with the formatted message if cond is false and invariant
// checks are enabled.
func Assertf(cond bool, format string, args ...interface{}) {
	if Enabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
