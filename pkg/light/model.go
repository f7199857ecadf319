package light

import (
	"errors"
	"fmt"
)

// ErrAmplitudeCount is returned when solved amplitudes do not match the profile list.
var ErrAmplitudeCount = errors.New("light: amplitude count mismatch")

// Params is an ordered list of light components.
type Params []Profile

// Basis evaluates every component at unit amplitude on the given coordinates.
func (p Params) Basis(x, y []float64) [][]float64 {
	rows := make([][]float64, len(p))
	for k, prof := range p {
		row := make([]float64, len(x))
		for i := range x {
			row[i] = prof.UnitValue(x[i], y[i])
		}
		rows[k] = row
	}
	return rows
}

// Surface is the amplitude-weighted sum of all components.
func (p Params) Surface(x, y []float64) []float64 {
	out := make([]float64, len(x))
	for _, prof := range p {
		amp := prof.Amplitude()
		if amp == 0 {
			continue
		}
		for i := range x {
			out[i] += amp * prof.UnitValue(x[i], y[i])
		}
	}
	return out
}

// WithAmplitudes returns a copy carrying the given amplitudes in order.
func (p Params) WithAmplitudes(amps []float64) (Params, error) {
	if len(amps) != len(p) {
		return nil, fmt.Errorf("%w: %d amplitudes for %d profiles", ErrAmplitudeCount, len(amps), len(p))
	}
	out := make(Params, len(p))
	for i, prof := range p {
		out[i] = prof.WithAmplitude(amps[i])
	}
	return out, nil
}

// Select returns the components at the given indices. A nil index list selects all.
func (p Params) Select(indices []int) (Params, error) {
	if indices == nil {
		return p, nil
	}
	out := make(Params, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(p) {
			return nil, fmt.Errorf("light: index %d out of range for %d profiles", i, len(p))
		}
		out = append(out, p[i])
	}
	return out, nil
}
