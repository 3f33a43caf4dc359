package zlog

import "encoding/json"

// View is an immutable snapshot of a log's configuration at a given epoch.
// Epoch is strictly positive for a valid view; zero denotes the internal
// placeholder a Striper holds before its first successful refresh.
//
// SeqConfig is absent when the view has no designated sequencer. Seq is
// populated only in the local instance when SeqConfig.Secret matches this
// instance's secret; otherwise it is nil, and reads may still proceed
// against the ObjectMap. Views are immutable after publication.
type View struct {
	Epoch            uint64
	ObjectMap        ObjectMap
	SeqConfig        *SequencerConfig
	MinValidPosition uint64
	Seq              *Sequencer
}

// wireView is the on-the-wire shape handed to and read from a Backend. The
// epoch is deliberately excluded: the backend assigns and returns it
// separately, so the same bytes can be proposed idempotently at any epoch.
type wireView struct {
	ObjectMap        wireObjectMap    `json:"object_map"`
	SeqConfig        *SequencerConfig `json:"seq_config,omitempty"`
	MinValidPosition uint64           `json:"min_valid_position"`
}

type wireObjectMap struct {
	NextStripeID uint64       `json:"next_stripe_id"`
	Stripes      []wireStripe `json:"stripes"`
}

type wireStripe struct {
	ID          uint64 `json:"id"`
	Width       uint32 `json:"width"`
	MinPosition uint64 `json:"min_position"`
	MaxPosition uint64 `json:"max_position"`
}

// CreateInitialView returns the serialized representation of the
// distinguished "empty" view used to bootstrap a new log: an empty object
// map, no sequencer, and a zero minimum valid position.
func CreateInitialView() []byte {
	b, err := json.Marshal(wireView{ObjectMap: wireObjectMap{Stripes: []wireStripe{}}})
	if err != nil {
		// wireView has no types that can fail to marshal.
		panic("zlog: create initial view: " + err.Error())
	}
	return b
}

// Serialize encodes v's (ObjectMap, SeqConfig, MinValidPosition) for
// handoff to a Backend. Epoch is not encoded.
func (v View) Serialize() ([]byte, error) {
	wm := wireObjectMap{
		NextStripeID: v.ObjectMap.NextStripeID(),
		Stripes:      make([]wireStripe, 0, len(v.ObjectMap.stripes)),
	}
	for _, s := range v.ObjectMap.stripes {
		wm.Stripes = append(wm.Stripes, wireStripe{
			ID:          s.ID(),
			Width:       s.Width(),
			MinPosition: s.MinPosition(),
			MaxPosition: s.MaxPosition(),
		})
	}
	return json.Marshal(wireView{
		ObjectMap:        wm,
		SeqConfig:        v.SeqConfig,
		MinValidPosition: v.MinValidPosition,
	})
}

// NewView materializes an in-memory View from bytes previously produced by
// Serialize (or CreateInitialView), at the given backend-assigned epoch and
// using prefix to re-derive object names. If the decoded SeqConfig's Secret
// equals localSecret, Seq is populated as a new Sequencer at
// (epoch, SeqConfig.InitPosition); otherwise Seq is nil.
func NewView(prefix string, epoch uint64, data []byte, localSecret string) (View, error) {
	var w wireView
	if err := json.Unmarshal(data, &w); err != nil {
		return View{}, err
	}

	om := ObjectMap{nextStripeID: w.ObjectMap.NextStripeID}
	om.stripes = make([]Stripe, 0, len(w.ObjectMap.Stripes))
	for _, ws := range w.ObjectMap.Stripes {
		slots := (ws.MaxPosition - ws.MinPosition + 1) / uint64(ws.Width)
		om.stripes = append(om.stripes, NewStripe(prefix, ws.ID, ws.Width, slots, ws.MinPosition))
	}

	v := View{
		Epoch:            epoch,
		ObjectMap:        om,
		SeqConfig:        w.SeqConfig,
		MinValidPosition: w.MinValidPosition,
	}
	if w.SeqConfig != nil && w.SeqConfig.Secret == localSecret {
		v.Seq = NewSequencer(epoch, w.SeqConfig.InitPosition)
	}
	return v, nil
}
