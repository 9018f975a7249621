// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

// Permutation is a mutable index vector used by the echelon and kktsolve
// packages to track row/column reorderings without moving the underlying
// matrix data.
type Permutation struct {
	idx []int
}

// NewIdentity returns the identity permutation of the given size.
func NewIdentity(n int) Permutation {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return Permutation{idx: idx}
}

// Len returns the number of indices.
func (p Permutation) Len() int { return len(p.idx) }

// Indices exposes the underlying slice; callers must not retain it past a
// mutation of p.
func (p Permutation) Indices() []int { return p.idx }

// At returns the index at slot i.
func (p Permutation) At(i int) int { return p.idx[i] }

// Set assigns the index at slot i.
func (p Permutation) Set(i, v int) { p.idx[i] = v }

// Swap exchanges the indices at slots i and j.
func (p Permutation) Swap(i, j int) { p.idx[i], p.idx[j] = p.idx[j], p.idx[i] }

// Clone returns an independent copy.
func (p Permutation) Clone() Permutation {
	idx := make([]int, len(p.idx))
	copy(idx, p.idx)
	return Permutation{idx: idx}
}

// CopyFrom overwrites p's indices with other's, panicking on a length mismatch.
func (p Permutation) CopyFrom(other Permutation) {
	if len(p.idx) != len(other.idx) {
		panic("linalg: permutation length mismatch")
	}
	copy(p.idx, other.idx)
}

// IsValid reports whether p is a permutation of {0,...,n-1}.
func (p Permutation) IsValid() bool {
	seen := make([]bool, len(p.idx))
	for _, v := range p.idx {
		if v < 0 || v >= len(seen) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
