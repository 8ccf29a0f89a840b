// Package device models the served device: its options, streams,
// intrinsics and extrinsics, and the Server orchestrating the control
// protocol over a transport participant.
package device

import (
	"github.com/c360/devlink/config"
	"github.com/c360/devlink/message"
)

// Option is a named numeric control knob, owned by the device or by one
// of its streams. Its cached value is mutated only through the set/query
// protocol, which the dispatcher serializes.
type Option struct {
	Name        string
	Value       float64
	Default     float64
	Min         float64
	Max         float64
	Step        float64
	Description string
}

// HasRange reports whether the option carries range constraints.
func (o *Option) HasRange() bool {
	return o.Min != 0 || o.Max != 0 || o.Step != 0
}

// ToMessage renders the option's discovery form.
func (o *Option) ToMessage() message.Flexible {
	m := message.Flexible{
		"name":  o.Name,
		"value": o.Value,
	}
	if o.HasRange() {
		m["range"] = map[string]any{
			"min":     o.Min,
			"max":     o.Max,
			"step":    o.Step,
			"default": o.Default,
		}
	}
	if o.Description != "" {
		m["description"] = o.Description
	}
	return m
}

// OptionFromConfig builds an option from its configuration entry.
func OptionFromConfig(oc config.OptionConfig) *Option {
	return &Option{
		Name:        oc.Name,
		Value:       oc.Value,
		Default:     oc.Default,
		Min:         oc.Min,
		Max:         oc.Max,
		Step:        oc.Step,
		Description: oc.Description,
	}
}

// OptionsFromConfig builds the option list for one scope.
func OptionsFromConfig(ocs []config.OptionConfig) []*Option {
	if len(ocs) == 0 {
		return nil
	}
	opts := make([]*Option, 0, len(ocs))
	for _, oc := range ocs {
		opts = append(opts, OptionFromConfig(oc))
	}
	return opts
}

func optionList(options []*Option) []any {
	out := make([]any, 0, len(options))
	for _, o := range options {
		out = append(out, map[string]any(o.ToMessage()))
	}
	return out
}
