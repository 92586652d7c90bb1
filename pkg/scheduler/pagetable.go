// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package scheduler

// withActivePageTable switches CR3 to physAddr for the duration of fn,
// unconditionally restoring whatever was active beforehand — including
// when fn returns an error — so a failed new_user_thread never leaves
// the kernel running under a half-built address space (spec.md §7).
func (s *Scheduler) withActivePageTable(physAddr uint64, fn func() error) error {
	prev := s.ptm.ActivePageTablePhysAddr()
	s.ptm.SwitchToPageTable(physAddr)
	defer s.ptm.SwitchToPageTable(prev)

	return fn()
}
