/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package orchestrator

import "github.com/s7tools/engine/result"

// teardownStack runs registered undo closures in LIFO order on any exit
// path, collecting secondary errors onto the primary one via Suppress
// rather than letting a teardown failure mask the error that caused the
// exit, per spec.md §4.9.
type teardownStack struct {
	undo []func() error
}

func (s *teardownStack) push(undo func() error) {
	s.undo = append(s.undo, undo)
}

// runAll pops every registered undo in reverse order, always to completion,
// and folds any failures into primary (teardown itself is not cancellable).
func (s *teardownStack) runAll(primary *result.Error) *result.Error {
	for i := len(s.undo) - 1; i >= 0; i-- {
		if err := s.undo[i](); err != nil {
			if primary == nil {
				primary = result.Wrap(result.Internal, err, `teardown step failed`)
			} else {
				primary = primary.Suppress(err)
			}
		}
	}
	return primary
}
