package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"
)

// tool.go implements the contract shared by all external converters we call
// (dcm2niix, dwi2tensor, tensor2metric). A tool is described once by a
// ToolSpec, a single run is described by a ToolConfig. The config is built
// per invocation and thrown away afterwards, nothing in here is shared
// between runs.

// ToolOption is one option of a tool call. Values has one entry for a
// scalar option and several entries for list valued options like
// "-fslgrad bvecs bvals". For an option that is a registered flag of the
// tool the Values stay empty and Flag decides if the switch is emitted.
type ToolOption struct {
	Name   string
	Values []string
	Flag   bool
}

// OutputSpec maps a logical output key to the default file name the tool
// will produce inside the destination directory.
type OutputSpec struct {
	Key      string
	Filename string
}

// ToolSpec describes an external tool binary, the option names that act as
// flags (no value) and the outputs we expect after a successful run.
type ToolSpec struct {
	Name           string
	Flags          []string
	DefaultOutputs []OutputSpec
	// InFileLast moves the positional input behind the options. The
	// MRtrix tools take their input first, dcm2niix wants it last.
	InFileLast bool
	// Timeout bounds a single run, zero means no limit. Waiting forever
	// is not an option if we call this from a workflow.
	Timeout time.Duration
}

// ToolConfig collects the input file and the options for one run. The
// option order is kept, the command line is emitted in insertion order.
type ToolConfig struct {
	InFile  string
	Options []ToolOption
}

// Set adds a scalar or list valued option, replacing an earlier option of
// the same name in place so the emitted order stays stable.
func (config *ToolConfig) Set(name string, values ...string) {
	for i := range config.Options {
		if config.Options[i].Name == name {
			config.Options[i].Values = values
			config.Options[i].Flag = false
			return
		}
	}
	config.Options = append(config.Options, ToolOption{Name: name, Values: values})
}

// SetFlag switches a registered flag option on or off.
func (config *ToolConfig) SetFlag(name string, on bool) {
	for i := range config.Options {
		if config.Options[i].Name == name {
			config.Options[i].Values = nil
			config.Options[i].Flag = on
			return
		}
	}
	config.Options = append(config.Options, ToolOption{Name: name, Flag: on})
}

// Get returns the option with that name if it has been set.
func (config ToolConfig) Get(name string) (ToolOption, bool) {
	for _, option := range config.Options {
		if option.Name == name {
			return option, true
		}
	}
	return ToolOption{}, false
}

// ConfigError reports a configuration that cannot be turned into a
// command line, like a missing input file.
type ConfigError struct {
	Tool   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: invalid configuration, %s", e.Tool, e.Reason)
}

// ExecError reports a tool that ran and exited with a non-zero status. We
// keep the verbatim command string and whatever the tool wrote to stderr
// so the user can re-run the call by hand.
type ExecError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("failed to run\n\t%s\nexit code %d", e.Command, e.ExitCode)
	if strings.TrimSpace(e.Stderr) != "" {
		msg = msg + "\n" + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// StartError reports a tool that could not be started at all, usually
// because the binary is not installed or not on the PATH. No exit code
// exists in that case.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("could not start\n\t%s\n%v", e.Command, e.Err)
}

// TimeoutError reports a tool that was killed because it exceeded the
// timeout of its ToolSpec.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v for\n\t%s", e.Timeout, e.Command)
}

// OutputMissingError reports a tool that claimed success but did not
// produce one of the declared output files.
type OutputMissingError struct {
	Command string
	Key     string
	Path    string
}

func (e *OutputMissingError) Error() string {
	return fmt.Sprintf("output %s (%s) missing after\n\t%s", e.Key, e.Path, e.Command)
}

// contextWithInterrupt returns a context that is cancelled when the user
// presses ctrl-c, a tool running under it is killed then.
func contextWithInterrupt() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt)
	return ctx
}

func (spec ToolSpec) isFlag(name string) bool {
	for _, f := range spec.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// addOutputs resolves the default output files of the tool against the
// destination directory. Keys the caller has set explicitly are left
// alone. The destination directory is created if it does not exist,
// creating it twice is fine.
func (spec ToolSpec) addOutputs(config ToolConfig, destination string) (ToolConfig, error) {
	if destination != "" {
		if err := os.MkdirAll(destination, 0755); err != nil {
			return config, &ConfigError{Tool: spec.Name, Reason: fmt.Sprintf("could not create destination directory %s", destination)}
		}
	}
	for _, out := range spec.DefaultOutputs {
		if _, ok := config.Get(out.Key); ok {
			continue
		}
		config.Set(out.Key, filepath.Join(destination, out.Filename))
	}
	return config, nil
}

// outputPaths collects the resolved path for every declared output key.
// Call after addOutputs, the keys are all present then.
func (spec ToolSpec) outputPaths(config ToolConfig) map[string]string {
	outputs := make(map[string]string)
	for _, out := range spec.DefaultOutputs {
		if option, ok := config.Get(out.Key); ok && len(option.Values) > 0 {
			outputs[out.Key] = option.Values[0]
		}
	}
	return outputs
}

// generateCommand translates the configuration into the argument vector
// for the tool. The order of the options is the order in which they were
// set. A flag that is switched off is not emitted at all, a zero or
// "false" value of a normal option is a legitimate value and is emitted.
// No quoting is done here, paths with spaces in them will break the
// command string we report.
func (spec ToolSpec) generateCommand(config ToolConfig) ([]string, error) {
	if config.InFile == "" {
		return nil, &ConfigError{Tool: spec.Name, Reason: "no in_file given"}
	}
	argv := []string{spec.Name}
	if !spec.InFileLast {
		argv = append(argv, config.InFile)
	}
	for _, option := range config.Options {
		if spec.isFlag(option.Name) && len(option.Values) == 0 {
			if option.Flag {
				argv = append(argv, "-"+option.Name)
			}
			continue
		}
		if len(option.Values) == 0 {
			return nil, &ConfigError{Tool: spec.Name, Reason: fmt.Sprintf("option %s has no value", option.Name)}
		}
		argv = append(argv, "-"+option.Name)
		argv = append(argv, option.Values...)
	}
	if spec.InFileLast {
		argv = append(argv, config.InFile)
	}
	return argv, nil
}

// Run resolves the outputs, builds the command line and calls the tool.
// The call blocks until the tool is done. On success the returned map
// contains the file path for every declared output key. The run fails if
// the tool cannot be started, exits non-zero, runs into the timeout, or an
// output file is missing afterwards.
func (spec ToolSpec) Run(ctx context.Context, config ToolConfig, destination string) (map[string]string, error) {
	config, err := spec.addOutputs(config, destination)
	if err != nil {
		return nil, err
	}
	argv, err := spec.generateCommand(config)
	if err != nil {
		return nil, err
	}
	commandString := strings.Join(argv, " ")

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Command: commandString, Timeout: spec.Timeout}
	}
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			// the process never ran, there is no exit code to report
			return nil, &StartError{Command: commandString, Err: runErr}
		}
		return nil, &ExecError{Command: commandString, ExitCode: exitErr.ExitCode(), Stderr: errb.String()}
	}

	outputs := spec.outputPaths(config)
	for key, path := range outputs {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, &OutputMissingError{Command: commandString, Key: key, Path: path}
		}
	}
	return outputs, nil
}
