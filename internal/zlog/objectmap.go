package zlog

// ObjectMap is an ordered collection of stripes covering [0, MaxPosition()],
// and is the sole authority on position-to-object mapping for one view.
//
// ObjectMap values are immutable after construction: ExpandMapping returns a
// new ObjectMap rather than mutating the receiver, so a published View's map
// never changes under its readers.
type ObjectMap struct {
	nextStripeID uint64
	stripes      []Stripe
}

// NewObjectMap returns an empty ObjectMap.
func NewObjectMap() ObjectMap {
	return ObjectMap{}
}

// NextStripeID returns the id that will be assigned to the next appended stripe.
func (m ObjectMap) NextStripeID() uint64 { return m.nextStripeID }

// Stripes returns the ordered, non-overlapping stripes covering [0, MaxPosition()].
func (m ObjectMap) Stripes() []Stripe {
	out := make([]Stripe, len(m.stripes))
	copy(out, m.stripes)
	return out
}

// Empty reports whether the map has no stripes.
func (m ObjectMap) Empty() bool { return len(m.stripes) == 0 }

// MaxPosition returns the last mapped position and true, or (0, false) if
// the map is empty.
func (m ObjectMap) MaxPosition() (uint64, bool) {
	if len(m.stripes) == 0 {
		return 0, false
	}
	return m.stripes[len(m.stripes)-1].MaxPosition(), true
}

// stripeIndexFor returns the index of the stripe containing position, or -1.
func (m ObjectMap) stripeIndexFor(position uint64) int {
	// Stripes are contiguous and sorted by MinPosition, so binary search works,
	// but the expected stripe count is small; a linear scan from the end (the
	// common case: recent appends hit the last stripe) keeps this simple.
	for i := len(m.stripes) - 1; i >= 0; i-- {
		if m.stripes[i].Contains(position) {
			return i
		}
	}
	return -1
}

// Map locates the stripe whose range contains position. If found, it returns
// the mapped object name and whether that stripe is the map's last stripe.
// Otherwise ok is false.
func (m ObjectMap) Map(position uint64) (oid string, isLastStripe bool, ok bool) {
	idx := m.stripeIndexFor(position)
	if idx < 0 {
		return "", false, false
	}
	s := m.stripes[idx]
	return s.Map(position), s.ID() == m.stripes[len(m.stripes)-1].ID(), true
}

// MapStripe returns the stripe containing position, or false if unmapped.
func (m ObjectMap) MapStripe(position uint64) (Stripe, bool) {
	idx := m.stripeIndexFor(position)
	if idx < 0 {
		return Stripe{}, false
	}
	return m.stripes[idx], true
}

// ObjectRef is one entry of a MapTo enumeration: the object holding entries
// up to (and possibly past) the requested position within that stripe, and
// whether it is the final entry in the enumeration.
type ObjectRef struct {
	OID    string
	IsLast bool
}

// MapTo enumerates one entry per stripe, from stripe 0 up to and including
// the stripe containing position. Each entry's object is the mapping of
// min(position, stripe.MaxPosition) within that stripe. It is used to
// enumerate every object that may hold entries in [0, position] — e.g. for
// trim and scan operations. Returns (nil, false) if position is not mapped.
func (m ObjectMap) MapTo(position uint64) ([]ObjectRef, bool) {
	idx := m.stripeIndexFor(position)
	if idx < 0 {
		return nil, false
	}
	out := make([]ObjectRef, idx+1)
	for i := 0; i <= idx; i++ {
		s := m.stripes[i]
		p := position
		if p > s.MaxPosition() {
			p = s.MaxPosition()
		}
		out[i] = ObjectRef{OID: s.Map(p), IsLast: i == idx}
	}
	return out, true
}

// ExpandMapping returns a new ObjectMap that maps position, appending one or
// more stripes as needed. If position is already mapped it returns
// (m, false) unchanged. Appended stripes inherit width and slotsPerObject
// from the last existing stripe; defaultWidth/defaultSlots are used only
// when the map is empty.
//
// ExpandMapping is pure with respect to its receiver and idempotent: calling
// it a second time with the same position on its own result is a no-op.
func (m ObjectMap) ExpandMapping(prefix string, position uint64, defaultWidth uint32, defaultSlots uint64) (ObjectMap, bool) {
	if _, _, ok := m.Map(position); ok {
		return m, false
	}

	next := ObjectMap{
		nextStripeID: m.nextStripeID,
		stripes:      append([]Stripe(nil), m.stripes...),
	}

	for {
		var minPos uint64
		width, slots := defaultWidth, defaultSlots
		if n := len(next.stripes); n > 0 {
			last := next.stripes[n-1]
			minPos = last.MaxPosition() + 1
			width, slots = last.Width(), last.SlotsPerObject()
		}
		s := NewStripe(prefix, next.nextStripeID, width, slots, minPos)
		next.stripes = append(next.stripes, s)
		next.nextStripeID++
		if s.Contains(position) {
			break
		}
	}
	return next, true
}
