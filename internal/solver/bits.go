package solver

import "math/bits"

// set is a fixed-size bit set over the values of one variable.
type set []uint64

func newSet(n int) set { return make(set, (n+63)/64) }

func fullSet(n int) set {
	s := newSet(n)
	for i := 0; i < n; i++ {
		s.add(i)
	}
	return s
}

func (s set) add(i int)        { s[i/64] |= 1 << (uint(i) % 64) }
func (s set) remove(i int)     { s[i/64] &^= 1 << (uint(i) % 64) }
func (s set) has(i int) bool   { return s[i/64]&(1<<(uint(i)%64)) != 0 }
func (s set) clone() set       { return append(set(nil), s...) }
func (s set) assign(other set) { copy(s, other) }

func (s set) equal(other set) bool {
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s set) count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

func (s set) empty() bool {
	for _, w := range s {
		if w != 0 {
			return false
		}
	}
	return true
}

// first returns the lowest member, or -1.
func (s set) first() int {
	for i, w := range s {
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// subsetOf reports whether every member of s is in other.
func (s set) subsetOf(other set) bool {
	for i := range s {
		if s[i]&^other[i] != 0 {
			return false
		}
	}
	return true
}

func (s set) intersects(other set) bool {
	for i := range s {
		if s[i]&other[i] != 0 {
			return true
		}
	}
	return false
}

// intersectInto stores s ∩ other in dst.
func (s set) intersectInto(other, dst set) {
	for i := range s {
		dst[i] = s[i] & other[i]
	}
}

func (s set) complement(n int) set {
	out := newSet(n)
	for i := 0; i < n; i++ {
		if !s.has(i) {
			out.add(i)
		}
	}
	return out
}

func (s set) members() []int {
	var out []int
	for i, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, i*64+b)
			w &^= 1 << uint(b)
		}
	}
	return out
}
