package natsort

import (
	"cmp"
	"slices"
)

// Compare returns -1, 0 or +1 depending on whether left sorts before, equal to
// or after right in natural order.
func Compare(left, right []byte) int {
	i, j := 0, 0
	for {
		if i >= len(left) || j >= len(right) {
			switch {
			case i < len(left):
				return 1
			case j < len(right):
				return -1
			default:
				return 0
			}
		}

		l, r := left[i], right[j]
		if !isDigit(l) || !isDigit(r) {
			if l != r {
				return cmp.Compare(l, r)
			}
			i++
			j++
			continue
		}

		var c int
		if l == '0' || r == '0' {
			c, i, j = compareLeftAligned(left, right, i, j)
		} else {
			c, i, j = compareRightAligned(left, right, i, j)
		}
		if c != 0 {
			return c
		}
		// i and j now point past both digit runs.
	}
}

// compareLeftAligned compares two digit runs position by position. The first
// differing digit decides; if one run is longer it is greater.
func compareLeftAligned(left, right []byte, i, j int) (int, int, int) {
	for {
		if c := cmp.Compare(left[i], right[j]); c != 0 {
			return c, i, j
		}
		i++
		j++
		ld := i < len(left) && isDigit(left[i])
		rd := j < len(right) && isDigit(right[j])
		switch {
		case ld && rd:
		case ld:
			return 1, i, j
		case rd:
			return -1, i, j
		default:
			return 0, i, j
		}
	}
}

// compareRightAligned compares two digit runs by magnitude: the longer run is
// greater, equal lengths fall back to the first differing digit.
func compareRightAligned(left, right []byte, i, j int) (int, int, int) {
	last := cmp.Compare(left[i], right[j])
	for {
		i++
		j++
		ld := i < len(left) && isDigit(left[i])
		rd := j < len(right) && isDigit(right[j])
		switch {
		case ld && rd:
			if last == 0 {
				last = cmp.Compare(left[i], right[j])
			}
		case ld:
			return 1, i, j
		case rd:
			return -1, i, j
		default:
			return last, i, j
		}
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// CompareString is Compare for strings.
func CompareString(a, b string) int {
	return Compare([]byte(a), []byte(b))
}

// Less reports whether a sorts strictly before b.
func Less(a, b []byte) bool {
	return Compare(a, b) < 0
}

// Strings sorts s in place in natural order.
func Strings(s []string) {
	slices.SortFunc(s, CompareString)
}

// Comparer exposes the natural order under a stable name. The name is written
// into file headers so a column is never reopened with a different ordering.
type Comparer struct{}

// Natural is the natural-order Comparer.
var Natural = Comparer{}

// Compare implements the comparer contract.
func (Comparer) Compare(a, b []byte) int { return Compare(a, b) }

// Name returns "natsort.Natural".
func (Comparer) Name() string { return "natsort.Natural" }
