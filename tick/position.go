package tick

import (
	"strconv"
	"strings"
)

// Position locates an element in the global tick order as a path of ordinal
// indices, one per nesting level. Positions compare lexicographically, so an
// element inside the second sub-graph sorts after every element of the first.
type Position []uint32

// Child returns the position of the i-th unit below p
func (p Position) Child(i int) Position {
	out := make(Position, len(p)+1)
	copy(out, p)
	out[len(p)] = uint32(i)
	return out
}

// Compare returns -1, 0 or +1. A prefix sorts before its extensions.
func (p Position) Compare(o Position) int {
	for i := 0; i < len(p) && i < len(o); i++ {
		switch {
		case p[i] < o[i]:
			return -1
		case p[i] > o[i]:
			return 1
		}
	}
	switch {
	case len(p) < len(o):
		return -1
	case len(p) > len(o):
		return 1
	}
	return 0
}

// Before reports whether p runs earlier than o in a tick
func (p Position) Before(o Position) bool { return p.Compare(o) < 0 }

func (p Position) String() string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return strings.Join(parts, ".")
}
