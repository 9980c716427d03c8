package main

// Importing all the required packages for our tests to work
import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func Test_generateCommand(t *testing.T) {
	spec := ToolSpec{
		Name:  "dwi2tensor",
		Flags: []string{"ols", "force", "quiet"},
	}
	// Defining our test cases
	tests := []struct {
		name    string // The name of the test
		build   func() ToolConfig
		want    []string // The argument vector we expect
		wantErr bool     // If we expect a configuration error
	}{
		{
			"Flag switched on is emitted",
			func() ToolConfig {
				c := ToolConfig{InFile: "/data/dwi.mif"}
				c.SetFlag("ols", true)
				return c
			},
			[]string{"dwi2tensor", "/data/dwi.mif", "-ols"},
			false,
		},
		{
			"Flag switched off is not emitted",
			func() ToolConfig {
				c := ToolConfig{InFile: "/data/dwi.mif"}
				c.SetFlag("ols", false)
				c.SetFlag("force", true)
				return c
			},
			[]string{"dwi2tensor", "/data/dwi.mif", "-force"},
			false,
		},
		{
			"List valued option keeps the value order",
			func() ToolConfig {
				c := ToolConfig{InFile: "/data/dwi.mif"}
				c.Set("fslgrad", "bvecs", "bvals")
				return c
			},
			[]string{"dwi2tensor", "/data/dwi.mif", "-fslgrad", "bvecs", "bvals"},
			false,
		},
		{
			"A zero value is a legitimate value",
			func() ToolConfig {
				c := ToolConfig{InFile: "/data/dwi.mif"}
				c.Set("number", "0")
				return c
			},
			[]string{"dwi2tensor", "/data/dwi.mif", "-number", "0"},
			false,
		},
		{
			"Options are emitted in insertion order",
			func() ToolConfig {
				c := ToolConfig{InFile: "/data/dwi.mif"}
				c.SetFlag("ols", true)
				c.Set("mask", "/data/mask.mif")
				c.Set("tensor_file", "/out/tensor.mif")
				return c
			},
			[]string{"dwi2tensor", "/data/dwi.mif", "-ols", "-mask", "/data/mask.mif", "-tensor_file", "/out/tensor.mif"},
			false,
		},
		{
			"Missing input is a configuration error",
			func() ToolConfig {
				c := ToolConfig{}
				c.SetFlag("ols", true)
				return c
			},
			nil,
			true,
		},
	}
	// Iterating our test cases as usual
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			argv, err := spec.generateCommand(tt.build())
			if tt.wantErr {
				var configErr *ConfigError
				if !errors.As(err, &configErr) {
					t.Errorf("generateCommand() error = %v, want a ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Errorf("generateCommand() unexpected error %v", err)
				return
			}
			if !reflect.DeepEqual(argv, tt.want) {
				t.Errorf("generateCommand() = %v, want %v", argv, tt.want)
			}
		})
	}
}

func Test_generateCommandInFileLast(t *testing.T) {
	// dcm2niix takes the input directory as the last argument
	spec := ToolSpec{Name: "dcm2niix", InFileLast: true}
	config := ToolConfig{InFile: "/data/series01"}
	config.Set("z", "y")
	config.Set("f", "3")
	config.Set("o", "/out")
	argv, err := spec.generateCommand(config)
	if err != nil {
		t.Fatalf("generateCommand() unexpected error %v", err)
	}
	want := []string{"dcm2niix", "-z", "y", "-f", "3", "-o", "/out", "/data/series01"}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("generateCommand() = %v, want %v", argv, want)
	}
}

func Test_configSetReplaces(t *testing.T) {
	// Setting the same option twice should replace the value in place,
	// not append a second copy
	config := ToolConfig{InFile: "in.mif"}
	config.Set("mask", "a.mif")
	config.Set("tensor_file", "t.mif")
	config.Set("mask", "b.mif")
	option, ok := config.Get("mask")
	if !ok || len(option.Values) != 1 || option.Values[0] != "b.mif" {
		t.Errorf("Set() did not replace the earlier value, got %v", option)
	}
	if len(config.Options) != 2 {
		t.Errorf("Set() appended instead of replacing, have %d options", len(config.Options))
	}
}

func Test_addOutputs(t *testing.T) {
	spec := ToolSpec{
		Name: "dwi2tensor",
		DefaultOutputs: []OutputSpec{
			{Key: "tensor_file", Filename: "tensor.mif"},
		},
	}
	t.Run("Default output resolves against the destination", func(t *testing.T) {
		dir := t.TempDir()
		config, err := spec.addOutputs(ToolConfig{InFile: "in.mif"}, dir)
		if err != nil {
			t.Fatalf("addOutputs() unexpected error %v", err)
		}
		outputs := spec.outputPaths(config)
		want := filepath.Join(dir, "tensor.mif")
		if outputs["tensor_file"] != want {
			t.Errorf("outputPaths() = %v, want tensor_file at %s", outputs, want)
		}
	})
	t.Run("An explicit output is not overridden", func(t *testing.T) {
		dir := t.TempDir()
		config := ToolConfig{InFile: "in.mif"}
		config.Set("tensor_file", "/somewhere/else.mif")
		config, err := spec.addOutputs(config, dir)
		if err != nil {
			t.Fatalf("addOutputs() unexpected error %v", err)
		}
		outputs := spec.outputPaths(config)
		if outputs["tensor_file"] != "/somewhere/else.mif" {
			t.Errorf("outputPaths() = %v, the explicit path should win", outputs)
		}
	})
}

func Test_runExitCodes(t *testing.T) {
	// We use /bin/true and /bin/false as stand-ins for the real tools so
	// the tests run everywhere
	t.Run("Non-zero exit becomes an ExecError with the command string", func(t *testing.T) {
		spec := ToolSpec{Name: "false"}
		_, err := spec.Run(context.Background(), ToolConfig{InFile: "input.mif"}, "")
		var execErr *ExecError
		if !errors.As(err, &execErr) {
			t.Fatalf("Run() error = %v, want an ExecError", err)
		}
		if execErr.ExitCode != 1 {
			t.Errorf("Run() exit code = %d, want 1", execErr.ExitCode)
		}
		if !strings.Contains(execErr.Command, "false input.mif") {
			t.Errorf("Run() command = %q, want the verbatim command line", execErr.Command)
		}
	})
	t.Run("Exit zero with existing outputs succeeds", func(t *testing.T) {
		dir := t.TempDir()
		existing := filepath.Join(dir, "tensor.mif")
		if err := os.WriteFile(existing, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
		spec := ToolSpec{
			Name:           "true",
			DefaultOutputs: []OutputSpec{{Key: "tensor_file", Filename: "tensor.mif"}},
		}
		outputs, err := spec.Run(context.Background(), ToolConfig{InFile: "input.mif"}, dir)
		if err != nil {
			t.Fatalf("Run() unexpected error %v", err)
		}
		if outputs["tensor_file"] != existing {
			t.Errorf("Run() outputs = %v, want tensor_file at %s", outputs, existing)
		}
	})
	t.Run("A declared output that was not produced fails the run", func(t *testing.T) {
		dir := t.TempDir()
		spec := ToolSpec{
			Name:           "true",
			DefaultOutputs: []OutputSpec{{Key: "tensor_file", Filename: "tensor.mif"}},
		}
		_, err := spec.Run(context.Background(), ToolConfig{InFile: "input.mif"}, dir)
		var missingErr *OutputMissingError
		if !errors.As(err, &missingErr) {
			t.Fatalf("Run() error = %v, want an OutputMissingError", err)
		}
		if missingErr.Key != "tensor_file" {
			t.Errorf("Run() missing key = %q, want tensor_file", missingErr.Key)
		}
	})
}

func Test_runStartFailure(t *testing.T) {
	// a binary that is not installed never produces an exit code, the
	// failure must not look like the tool ran
	spec := ToolSpec{Name: "no-such-converter-binary"}
	_, err := spec.Run(context.Background(), ToolConfig{InFile: "input.mif"}, "")
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("Run() error = %v, want a StartError", err)
	}
	var execErr *ExecError
	if errors.As(err, &execErr) {
		t.Errorf("Run() reported an ExecError with a fabricated exit code")
	}
	if !strings.Contains(startErr.Command, "no-such-converter-binary input.mif") {
		t.Errorf("Run() command = %q, want the verbatim command line", startErr.Command)
	}
}

func Test_runTimeout(t *testing.T) {
	// sleep takes the duration as its positional argument
	spec := ToolSpec{Name: "sleep", Timeout: 50 * time.Millisecond}
	_, err := spec.Run(context.Background(), ToolConfig{InFile: "2"}, "")
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Run() error = %v, want a TimeoutError", err)
	}
	if timeoutErr.Timeout != 50*time.Millisecond {
		t.Errorf("Run() timeout = %v, want 50ms", timeoutErr.Timeout)
	}
}

func Test_dwi2tensorConfiguration(t *testing.T) {
	// The typed wrapper should produce the documented command line
	fit := Dwi2tensor{InFile: "/data/dwi.mif", OLS: true}
	config, err := dwi2tensorSpec.addOutputs(fit.configuration(), t.TempDir())
	if err != nil {
		t.Fatalf("addOutputs() unexpected error %v", err)
	}
	argv, err := dwi2tensorSpec.generateCommand(config)
	if err != nil {
		t.Fatalf("generateCommand() unexpected error %v", err)
	}
	command := strings.Join(argv, " ")
	if !strings.HasPrefix(command, "dwi2tensor /data/dwi.mif -ols -tensor_file ") {
		t.Errorf("generateCommand() = %q, want the input first, then -ols, then the output", command)
	}
	if !strings.HasSuffix(command, string(os.PathSeparator)+"tensor.mif") {
		t.Errorf("generateCommand() = %q, want the default tensor.mif output", command)
	}
}

func Test_dcm2niixPaths(t *testing.T) {
	tests := []struct {
		name      string
		converter Dcm2niix
		want      string
	}{
		{"Compressed output", Dcm2niix{Destination: "/out/3", Compressed: true}, "/out/3.nii.gz"},
		{"Uncompressed output", Dcm2niix{Destination: "/out/3", Compressed: false}, "/out/3.nii"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.converter.NiftiPath(); got != tt.want {
				t.Errorf("NiftiPath() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_dcm2niixConvertValidation(t *testing.T) {
	// An incomplete conversion request should fail before anything runs
	var configErr *ConfigError
	if _, err := (Dcm2niix{Destination: "/out/3"}).Convert(context.Background()); !errors.As(err, &configErr) {
		t.Errorf("Convert() error = %v, want a ConfigError for the missing source", err)
	}
	if _, err := (Dcm2niix{SourceDir: "/data"}).Convert(context.Background()); !errors.As(err, &configErr) {
		t.Errorf("Convert() error = %v, want a ConfigError for the missing destination", err)
	}
}
