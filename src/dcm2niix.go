package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// dcm2niix.go wraps the dcm2niix converter,
// https://github.com/rordenlab/dcm2niix. The input is a directory with the
// DICOM files of a single series, the output a NIfTI file plus an optional
// BIDS JSON side-car.

// Dcm2niix describes one conversion. Destination is the full output path
// without the file extension, the directory part is created if needed.
type Dcm2niix struct {
	SourceDir    string
	Destination  string
	Compressed   bool
	GenerateJSON bool
	Extra        []ToolOption
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// NiftiPath is where the converted file ends up, dcm2niix appends the
// extension based on the compression setting.
func (d Dcm2niix) NiftiPath() string {
	if d.Compressed {
		return d.Destination + ".nii.gz"
	}
	return d.Destination + ".nii"
}

// Convert runs dcm2niix on the source directory and returns the path of
// the created NIfTI file.
func (d Dcm2niix) Convert(ctx context.Context) (string, error) {
	if d.SourceDir == "" {
		return "", &ConfigError{Tool: "dcm2niix", Reason: "no source directory given"}
	}
	if d.Destination == "" {
		return "", &ConfigError{Tool: "dcm2niix", Reason: "no destination given"}
	}
	outDir := filepath.Dir(d.Destination)
	name := filepath.Base(d.Destination)

	// dcm2niix derives the output file name from -f and -o, there is no
	// option that takes the output path itself. The expected file is
	// checked below instead of going through DefaultOutputs.
	spec := ToolSpec{
		Name:       "dcm2niix",
		InFileLast: true,
		Timeout:    30 * time.Minute,
	}
	config := ToolConfig{InFile: d.SourceDir}
	config.Set("z", yesNo(d.Compressed))
	config.Set("b", yesNo(d.GenerateJSON))
	config.Set("f", name)
	config.Set("o", outDir)
	config.Options = append(config.Options, d.Extra...)

	if _, err := spec.Run(ctx, config, outDir); err != nil {
		return "", err
	}
	nifti := d.NiftiPath()
	if _, err := os.Stat(nifti); os.IsNotExist(err) {
		argv, _ := spec.generateCommand(config)
		return "", &OutputMissingError{Command: strings.Join(argv, " "), Key: "nifti_file", Path: nifti}
	}
	return nifti, nil
}
