package looptrack

import (
	"maps"

	"github.com/google/uuid"

	"github.com/Surajmusicproductions/looper-new/internal/apperrors"
)

// EffectType enumerates the runtime effect-graph node kinds (spec.md
// §3 "Effect Descriptor"). Pitch is handled separately via
// BeginPitchShift/CompletePitchShift: it never appears in this chain.
type EffectType string

const (
	EffectLowPass     EffectType = "lowpass"
	EffectHighPass    EffectType = "highpass"
	EffectPan         EffectType = "pan"
	EffectDelay       EffectType = "delay"
	EffectCompressor  EffectType = "compressor"
)

// Effect is a single chain entry: `{id, type, params, bypass}` per
// spec.md's Effect Descriptor. NodeHandle is opaque to this package;
// the real-time graph node it names lives entirely in the out-of-scope
// audio engine (spec.md §1).
type Effect struct {
	ID         string
	Type       EffectType
	Params     map[string]float64
	Bypass     bool
	NodeHandle any
}

func (e Effect) clone() Effect {
	cp := e
	if e.Params != nil {
		cp.Params = make(map[string]float64, len(e.Params))
		maps.Copy(cp.Params, e.Params)
	}
	return cp
}

func effectNotFound(track int, id string) error {
	return apperrors.New(nil).
		Component("looptrack").
		Category(apperrors.CategoryState).
		Kind(apperrors.KindInvalidState).
		Context("track", track).
		Context("effect_id", id).
		Build()
}

// AddEffect appends a new non-Pitch effect to the chain, snapshotting
// first so it can be undone.
func (t *Track) AddEffect(effType EffectType, params map[string]float64) Effect {
	t.pushUndo()
	eff := Effect{ID: uuid.NewString(), Type: effType, Params: params}
	t.Effects = append(t.Effects, eff)
	return eff
}

func (t *Track) indexOfEffect(id string) int {
	for i, e := range t.Effects {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// RemoveEffect deletes the effect with the given id from the chain.
func (t *Track) RemoveEffect(id string) error {
	i := t.indexOfEffect(id)
	if i < 0 {
		return effectNotFound(t.Index, id)
	}
	t.pushUndo()
	t.Effects = append(t.Effects[:i], t.Effects[i+1:]...)
	return nil
}

// MoveEffect reorders the effect with the given id by dir positions
// (negative moves earlier in the chain, positive moves later).
func (t *Track) MoveEffect(id string, dir int) error {
	i := t.indexOfEffect(id)
	if i < 0 {
		return effectNotFound(t.Index, id)
	}
	j := i + dir
	if j < 0 || j >= len(t.Effects) {
		return nil
	}
	t.pushUndo()
	t.Effects[i], t.Effects[j] = t.Effects[j], t.Effects[i]
	return nil
}

// ToggleBypass flips the bypass flag on the given effect.
func (t *Track) ToggleBypass(id string) error {
	i := t.indexOfEffect(id)
	if i < 0 {
		return effectNotFound(t.Index, id)
	}
	t.Effects[i].Bypass = !t.Effects[i].Bypass
	return nil
}

// SetParam sets a single parameter on the given effect.
func (t *Track) SetParam(id, key string, value float64) error {
	i := t.indexOfEffect(id)
	if i < 0 {
		return effectNotFound(t.Index, id)
	}
	if t.Effects[i].Params == nil {
		t.Effects[i].Params = make(map[string]float64)
	}
	t.Effects[i].Params[key] = value
	return nil
}

// ActiveChain returns the ordered list of non-bypassed effects, the
// shape the Session Coordinator wires source_node -> ... -> track gain
// -> master bus from (spec.md §4.6).
func (t *Track) ActiveChain() []Effect {
	out := make([]Effect, 0, len(t.Effects))
	for _, e := range t.Effects {
		if !e.Bypass {
			out = append(out, e)
		}
	}
	return out
}
