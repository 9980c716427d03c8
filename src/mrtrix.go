package main

import (
	"context"
	"time"
)

// mrtrix.go wraps the two MRtrix3 tools we use for diffusion data. Both
// are thin typed front-ends over the ToolSpec contract in tool.go, the
// option names are the ones from the MRtrix documentation.

// Dwi2tensor fits a diffusion tensor to a DWI series,
// https://mrtrix.readthedocs.io/en/latest/reference/commands/dwi2tensor.html
type Dwi2tensor struct {
	InFile string
	// switches of dwi2tensor, only emitted when true
	OLS       bool
	Force     bool
	Quiet     bool
	Info      bool
	NoCleanup bool
	// optional scalar inputs
	Mask string
	// Extra raw options for anything not covered above, emitted after the
	// typed ones in the given order.
	Extra []ToolOption
}

var dwi2tensorSpec = ToolSpec{
	Name:  "dwi2tensor",
	Flags: []string{"ols", "force", "quiet", "info", "nocleanup"},
	DefaultOutputs: []OutputSpec{
		{Key: "tensor_file", Filename: "tensor.mif"},
	},
	Timeout: 2 * time.Hour,
}

func (d Dwi2tensor) configuration() ToolConfig {
	config := ToolConfig{InFile: d.InFile}
	if d.OLS {
		config.SetFlag("ols", true)
	}
	if d.Force {
		config.SetFlag("force", true)
	}
	if d.Quiet {
		config.SetFlag("quiet", true)
	}
	if d.Info {
		config.SetFlag("info", true)
	}
	if d.NoCleanup {
		config.SetFlag("nocleanup", true)
	}
	if d.Mask != "" {
		config.Set("mask", d.Mask)
	}
	config.Options = append(config.Options, d.Extra...)
	return config
}

// Run executes dwi2tensor and returns the path of the tensor file under
// the key "tensor_file".
func (d Dwi2tensor) Run(ctx context.Context, destination string) (map[string]string, error) {
	return dwi2tensorSpec.Run(ctx, d.configuration(), destination)
}

// Tensor2metric computes scalar maps from a fitted tensor,
// https://mrtrix.readthedocs.io/en/latest/reference/commands/tensor2metric.html
type Tensor2metric struct {
	TensorFile string
	Force      bool
	Quiet      bool
	Mask       string
	Extra      []ToolOption
}

var tensor2metricSpec = ToolSpec{
	Name:  "tensor2metric",
	Flags: []string{"force", "quiet", "info", "nocleanup"},
	DefaultOutputs: []OutputSpec{
		{Key: "fa", Filename: "fa.mif"},
		{Key: "adc", Filename: "adc.mif"},
	},
	Timeout: 2 * time.Hour,
}

func (t Tensor2metric) configuration() ToolConfig {
	config := ToolConfig{InFile: t.TensorFile}
	if t.Force {
		config.SetFlag("force", true)
	}
	if t.Quiet {
		config.SetFlag("quiet", true)
	}
	if t.Mask != "" {
		config.Set("mask", t.Mask)
	}
	config.Options = append(config.Options, t.Extra...)
	return config
}

// Run executes tensor2metric and returns the fractional anisotropy and
// mean diffusivity maps under the keys "fa" and "adc".
func (t Tensor2metric) Run(ctx context.Context, destination string) (map[string]string, error) {
	return tensor2metricSpec.Run(ctx, t.configuration(), destination)
}
