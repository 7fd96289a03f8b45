package domain

import (
	"fmt"
	"math"
	"strings"
)

type EffectKind string

const (
	EffectSpeed  EffectKind = "speed"
	EffectFilter EffectKind = "filter"
)

// Audio tempo can only be adjusted within this range by a single tempo
// filter. Speed factors outside it still remap video time.
const (
	MinAudioTempo = 0.5
	MaxAudioTempo = 2.0
)

// Effect is either a speed change (Factor) or a named visual filter with
// parameters (Name, Params).
type Effect struct {
	Kind   EffectKind        `json:"kind" yaml:"kind"`
	Factor float64           `json:"factor,omitempty" yaml:"factor,omitempty"`
	Name   string            `json:"name,omitempty" yaml:"name,omitempty"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

func SpeedEffect(factor float64) Effect {
	return Effect{Kind: EffectSpeed, Factor: factor}
}

func FilterEffect(name string, params map[string]string) Effect {
	return Effect{Kind: EffectFilter, Name: name, Params: params}
}

// Validate rejects factors and filter expressions that cannot be placed in a
// filter chain verbatim.
func (e Effect) Validate() error {
	switch e.Kind {
	case EffectSpeed:
		if e.Factor <= 0 || math.IsInf(e.Factor, 0) || math.IsNaN(e.Factor) {
			return fmt.Errorf("%w: speed factor %v", ErrInvalidEffect, e.Factor)
		}
	case EffectFilter:
		if !isFilterIdent(e.Name) {
			return fmt.Errorf("%w: filter name %q", ErrInvalidEffect, e.Name)
		}
		for k, v := range e.Params {
			if !isFilterIdent(k) || strings.ContainsAny(v, ",;[]'=\\\n\r\x00") {
				return fmt.Errorf("%w: filter parameter %q=%q", ErrInvalidEffect, k, v)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEffect, e.Kind)
	}
	return nil
}

// String is the canonical form used in signatures.
func (e Effect) String() string {
	if e.Kind == EffectSpeed {
		return "speed(" + formatFloat(e.Factor) + ")"
	}
	parts := make([]string, 0, len(e.Params))
	for _, k := range sortedKeys(e.Params) {
		parts = append(parts, k+"="+e.Params[k])
	}
	return e.Name + "(" + strings.Join(parts, ":") + ")"
}

// ClampTempo saturates a speed factor to the range a tempo filter accepts.
func ClampTempo(factor float64) float64 {
	if factor < MinAudioTempo {
		return MinAudioTempo
	}
	if factor > MaxAudioTempo {
		return MaxAudioTempo
	}
	return factor
}

func (e Effect) clone() Effect {
	c := e
	if e.Params != nil {
		c.Params = make(map[string]string, len(e.Params))
		for k, v := range e.Params {
			c.Params[k] = v
		}
	}
	return c
}

func isFilterIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}
