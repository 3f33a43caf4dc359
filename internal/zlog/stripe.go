package zlog

import "fmt"

// Stripe is an immutable description of a contiguous range of log positions
// mapped round-robin across a fixed set of width backend object names.
//
// Invariants: Width >= 1; len(OIDs) == Width; OIDs are distinct and
// reproducible from (prefix, ID, Width); MaxPosition >= MinPosition.
type Stripe struct {
	id          uint64
	width       uint32
	minPosition uint64
	maxPosition uint64
	oids        []string
}

// NewStripe constructs a Stripe covering [minPosition, minPosition+width*slotsPerObject-1],
// with object names deterministically derived from (prefix, id, width).
func NewStripe(prefix string, id uint64, width uint32, slotsPerObject uint64, minPosition uint64) Stripe {
	if width == 0 {
		panic("zlog: stripe width must be >= 1")
	}
	if slotsPerObject == 0 {
		panic("zlog: stripe slotsPerObject must be >= 1")
	}
	span := uint64(width) * slotsPerObject
	return Stripe{
		id:          id,
		width:       width,
		minPosition: minPosition,
		maxPosition: minPosition + span - 1,
		oids:        makeOIDs(prefix, id, width),
	}
}

// makeOIDs derives width distinct, reproducible object names from
// (prefix, id, width). The scheme is byte-identical on every node: it is a
// pure function of its inputs.
func makeOIDs(prefix string, id uint64, width uint32) []string {
	oids := make([]string, width)
	for i := uint32(0); i < width; i++ {
		oids[i] = fmt.Sprintf("%s.%d.%d", prefix, id, i)
	}
	return oids
}

// ID returns the stripe's identifier, unique within its ObjectMap.
func (s Stripe) ID() uint64 { return s.id }

// Width returns the number of backend objects this stripe is striped across.
func (s Stripe) Width() uint32 { return s.width }

// MinPosition returns the first position this stripe covers.
func (s Stripe) MinPosition() uint64 { return s.minPosition }

// MaxPosition returns the last position this stripe covers (inclusive).
func (s Stripe) MaxPosition() uint64 { return s.maxPosition }

// OIDs returns the ordered sequence of backend object names for this stripe.
func (s Stripe) OIDs() []string {
	out := make([]string, len(s.oids))
	copy(out, s.oids)
	return out
}

// SlotsPerObject returns how many positions each of this stripe's objects holds.
func (s Stripe) SlotsPerObject() uint64 {
	return (s.maxPosition - s.minPosition + 1) / uint64(s.width)
}

// Contains reports whether position falls within this stripe's range.
func (s Stripe) Contains(position uint64) bool {
	return position >= s.minPosition && position <= s.maxPosition
}

// Map returns the backend object that holds position. The caller must
// ensure position is within [MinPosition, MaxPosition]; Map is a total
// function on that domain.
func (s Stripe) Map(position uint64) string {
	return s.oids[position%uint64(s.width)]
}
