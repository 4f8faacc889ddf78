package natstore

import (
	"bytes"
	"cmp"
	"strconv"

	"github.com/hupe1980/natstore/internal/avltree"
	"github.com/hupe1980/natstore/internal/datafile"
	"github.com/hupe1980/natstore/natsort"
)

// Resolver resolves a stored location to its bytes. The slice is borrowed
// and only valid for the duration of the comparison.
type Resolver interface {
	Resolve(loc datafile.Location) []byte
}

// ValueKind customizes how a column orders its values.
//
// Implementations must define a total order in which order-equal values are
// byte-equal, otherwise deduplication merges distinct values.
type ValueKind interface {
	// Name identifies the kind in the index file header.
	Name() string
	// Derive builds the index entry stored for content at loc.
	Derive(loc datafile.Location, content []byte) avltree.Value
	// Compare orders the stored entry against probe, the derived entry of
	// content: negative if stored sorts first, zero if equal.
	Compare(r Resolver, stored, probe avltree.Value, content []byte) int
	// OnUniqueRemoval is called after the last row holding stored released it.
	OnUniqueRemoval(stored avltree.Value)
}

var (
	// Binary orders values in natural order. It is the default kind.
	Binary ValueKind = binaryKind{}
	// Numeric orders values that parse as numbers by magnitude, before all
	// other values, which follow in natural order.
	Numeric ValueKind = numericKind{}
)

type binaryKind struct{}

func (binaryKind) Name() string { return "binary" }

func (binaryKind) Derive(loc datafile.Location, _ []byte) avltree.Value {
	return avltree.Value{Loc: loc}
}

func (binaryKind) Compare(r Resolver, stored, _ avltree.Value, content []byte) int {
	return natsort.Compare(r.Resolve(stored.Loc), content)
}

func (binaryKind) OnUniqueRemoval(avltree.Value) {}

type numericKind struct{}

func (numericKind) Name() string { return "numeric" }

func (numericKind) Derive(loc datafile.Location, content []byte) avltree.Value {
	v := avltree.Value{Loc: loc}
	if n, ok := parseNumber(content); ok {
		v.Flags |= avltree.FlagNumeric
		v.Num = n
	}
	return v
}

func (numericKind) Compare(r Resolver, stored, probe avltree.Value, content []byte) int {
	switch sn, pn := stored.Numeric(), probe.Numeric(); {
	case sn && pn:
		if c := cmp.Compare(stored.Num, probe.Num); c != 0 {
			return c
		}
	case sn:
		return -1
	case pn:
		return 1
	}
	// Equal numbers with different spellings ("1" and "1.0") stay distinct.
	return natsort.Compare(r.Resolve(stored.Loc), content)
}

func (numericKind) OnUniqueRemoval(avltree.Value) {}

func parseNumber(content []byte) (float64, bool) {
	s := bytes.Trim(content, " ")
	if len(s) == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
