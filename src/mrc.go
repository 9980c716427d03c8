// Code written 2022 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const version string = "0.0.2"

// The string below will be replaced during build time using
// -ldflags "-X main.compileDate=`date -u +.%Y%m%d.%H%M%S"`"
var compileDate string = ".unknown"

var own_name string = "mrc"

// the project folder we operate on, the TUI and the MCP server read this
var input_dir string = "."

//go:embed templates/README.md
var readme string

func exitGracefully(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func check(e error) {
	if e != nil {
		exitGracefully(e)
	}
}

type AuthorInfo struct {
	Name, Email string
}

type DataInfo struct {
	Path     string
	DataInfo map[string]map[string]ScanInfo
}

type ViewerInfo struct {
	TextColor string
}

type Config struct {
	Date           string
	Data           DataInfo
	SeriesFilter   string
	Author         AuthorInfo
	TempDirectory  string
	ProjectName    string
	Viewer         ViewerInfo
	LastDataFolder string
}

// readConfig parses a provided config file as JSON.
// It returns the parsed code as a marshaled structure.
func readConfig(path_string string) (Config, error) {
	if _, err := os.Stat(path_string); err != nil && os.IsNotExist(err) {
		return Config{}, fmt.Errorf("file %s does not exist", path_string)
	}
	// the config can contain patient information so it should not be
	// world readable, produce a warning if it is
	if fileInfo, err := os.Stat(path_string); err == nil {
		mode := fileInfo.Mode()
		mode_str := fmt.Sprintf("%s", mode)
		if mode_str != "-rw-------" {
			fmt.Println("Warning: Your config file is not secure. Change the permissions by 'chmod 0600 .mrc/config'. Now: ", mode)
		}
	}

	jsonFile, err := os.Open(path_string)
	if err != nil {
		return Config{}, fmt.Errorf("could not open the file %s", path_string)
	}
	defer jsonFile.Close()

	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return Config{}, fmt.Errorf("could not read the file %s", path_string)
	}

	var config Config
	if err := json.Unmarshal(byteValue, &config); err != nil {
		return Config{}, fmt.Errorf("could not parse the file %s", path_string)
	}
	return config, nil
}

// writeConfig stores the config in the project folder. Returns false if
// the project folder does not exist.
func (config Config) writeConfig() bool {
	dir_path := filepath.Join(input_dir, "."+own_name, "config")
	if _, err := os.Stat(filepath.Dir(dir_path)); os.IsNotExist(err) {
		return false
	}
	file, _ := json.MarshalIndent(config, "", " ")
	if err := os.WriteFile(dir_path, file, 0600); err != nil {
		return false
	}
	return true
}

// writeDescription stores the description of a staged series next to the
// staged files.
func writeDescription(description Description, dir string) {
	file, _ := json.MarshalIndent(description, "", " ")
	_ = os.WriteFile(filepath.Join(dir, "descr.json"), file, 0644)
}

// createStub will check if the folder exists and create a text file
func createStub(p string, str string) {
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		fmt.Println("This directory already contains a " + filepath.Base(p) + ", don't overwrite. Skip writing...")
	} else {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			fmt.Println("Error creating the required directories for ", filepath.Dir(p))
			return
		}
		f, err := os.Create(p)
		check(err)
		_, err = f.WriteString(str)
		check(err)
		f.Sync()
		f.Close()
	}
}

// filterSeries returns the series instance uids that match the series
// filter of the project, sorted by study and series number.
func filterSeries(config Config, filter string) []string {
	if filter == "" {
		filter = ".*"
	}
	mm, err := regexp.Compile(filter)
	if err != nil {
		exitGracefully(fmt.Errorf("could not compile the series filter %q", filter))
	}
	type oneSeries struct {
		StudyInstanceUID  string
		SeriesInstanceUID string
		SeriesNumber      int
	}
	var all []oneSeries
	for StudyInstanceUID, series := range config.Data.DataInfo {
		for SeriesInstanceUID, info := range series {
			str := fmt.Sprintf("StudyInstanceUID: %s, SeriesInstanceUID: %s, SeriesDescription: %s, NumImages: %d, SeriesNumber: %d, SequenceType: %s",
				StudyInstanceUID, SeriesInstanceUID, info.SeriesDescription, info.NumImages, info.SeriesNumber, info.SequenceType)
			if mm.MatchString(str) {
				all = append(all, oneSeries{StudyInstanceUID, SeriesInstanceUID, info.SeriesNumber})
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StudyInstanceUID != all[j].StudyInstanceUID {
			return all[i].StudyInstanceUID < all[j].StudyInstanceUID
		}
		return all[i].SeriesNumber < all[j].SeriesNumber
	})
	var uids []string
	for _, s := range all {
		uids = append(uids, s.SeriesInstanceUID)
	}
	return uids
}

func printClassification(config Config) {
	langFmt := message.NewPrinter(language.English)
	for StudyInstanceUID, series := range config.Data.DataInfo {
		fmt.Println("Study:", StudyInstanceUID)
		var uids []string
		for uid := range series {
			uids = append(uids, uid)
		}
		sort.Slice(uids, func(i, j int) bool {
			return series[uids[i]].SeriesNumber < series[uids[j]].SeriesNumber
		})
		for _, uid := range uids {
			info := series[uid]
			sequenceType := info.SequenceType
			if sequenceType == "" {
				sequenceType = "unclassified"
			}
			langFmt.Printf("\tseries %03d \"%s\" [%s] / [%s] -> %s (%d images)\n",
				info.SeriesNumber, info.SeriesDescription,
				strings.Join(info.ScanningSequence, ", "), strings.Join(info.SequenceVariant, ", "),
				sequenceType, info.NumImages)
		}
	}
}

func main() {

	// disable logging
	log.SetFlags(0)
	log.SetOutput(io.Discard)

	const (
		errorConfigFile = "the current directory is not an mrc directory. Change to the correct directory first or create a new folder by running\n\n\tmrc init project01\n "
	)

	initCommand := flag.NewFlagSet("init", flag.ContinueOnError)
	configCommand := flag.NewFlagSet("config", flag.ContinueOnError)
	statusCommand := flag.NewFlagSet("status", flag.ContinueOnError)
	classifyCommand := flag.NewFlagSet("classify", flag.ContinueOnError)
	convertCommand := flag.NewFlagSet("convert", flag.ContinueOnError)
	tensorCommand := flag.NewFlagSet("tensor", flag.ContinueOnError)
	mcpCommand := flag.NewFlagSet("mcp", flag.ContinueOnError)

	var author_name string
	configCommand.StringVar(&author_name, "author_name", "", "Author name stored with the project.")
	initCommand.StringVar(&author_name, "author_name", "", "Author name stored with the project.")
	var author_email string
	configCommand.StringVar(&author_email, "author_email", "", "Author email stored with the project.")
	initCommand.StringVar(&author_email, "author_email", "", "Author email stored with the project.")

	var data_path string
	configCommand.StringVar(&data_path, "data", "", "Path to a folder with DICOM files. If you want to specify a subset of folders\nuse double quotes for the path and the glob syntax.")
	var config_series_filter string
	configCommand.StringVar(&config_series_filter, "series_filter", "", "Filter applied to series before convert. This regular expression should\nmatch anything in the string build by StudyInstanceUID: %s,\nSeriesInstanceUID: %s, SeriesDescription: %s, NumImages: %d,\nSeriesNumber: %d, SequenceType: %s\n")
	var config_temp_directory string
	configCommand.StringVar(&config_temp_directory, "temp_directory", "", "Specify a directory for the temporary folders used while staging a series.\n")
	var project_name_string string
	configCommand.StringVar(&project_name_string, "project_name", "", "The name of the project.")

	var status_detailed bool
	statusCommand.BoolVar(&status_detailed, "all", false, "Parse the data folder again and show all information.")
	var status_tui bool
	statusCommand.BoolVar(&status_tui, "tui", false, "Browse the detected studies and series interactively.")
	var status_series string
	statusCommand.StringVar(&status_series, "series", "", "Show an ASCII preview of this SeriesInstanceUID in the terminal.")

	var convert_series string
	convertCommand.StringVar(&convert_series, "series", "", "The SeriesInstanceUID of the series to convert. If empty all series matching\nthe series filter are converted.")
	var convert_out string
	convertCommand.StringVar(&convert_out, "out", "", "Output path (without extension) for the converted file. Only valid together\nwith --series, the default mirrors the DICOM folder structure.")
	var convert_uncompressed bool
	convertCommand.BoolVar(&convert_uncompressed, "uncompressed", false, "Write .nii instead of .nii.gz.")
	var convert_no_json bool
	convertCommand.BoolVar(&convert_no_json, "no_json", false, "Do not write the BIDS JSON side-car file.")

	var tensor_in string
	tensorCommand.StringVar(&tensor_in, "in", "", "The diffusion weighted input image (.mif or .nii.gz with gradient information).")
	var tensor_out string
	tensorCommand.StringVar(&tensor_out, "out", "", "Output directory for the tensor fit, defaults to the directory of the input file.")
	var tensor_mask string
	tensorCommand.StringVar(&tensor_mask, "mask", "", "Only fit the tensor inside this mask image.")
	var tensor_ols bool
	tensorCommand.BoolVar(&tensor_ols, "ols", false, "Use ordinary least squares for the fit.")
	var tensor_force bool
	tensorCommand.BoolVar(&tensor_force, "force", false, "Overwrite existing output files.")
	var tensor_metrics bool
	tensorCommand.BoolVar(&tensor_metrics, "metrics", false, "Also compute FA and ADC maps with tensor2metric.")

	var mcp_http string
	mcpCommand.StringVar(&mcp_http, "http", "", "Serve the MCP protocol over streamable http on this address instead of stdin/stdout.")

	var show_version bool
	flag.BoolVar(&show_version, "version", false, "Show the version number.")

	flag.Usage = func() {
		fmt.Printf("MRC - MRI Conversion workflows\n")
		fmt.Printf("Version: %s%s\n", version, compileDate)
		fmt.Printf("Usage: %s [init|config|status|classify|convert|tensor|mcp] [options]\n\tStart with init to create a new project folder.\n\t%s init <project>\n", os.Args[0], os.Args[0])
		fmt.Printf("Option init:\n")
		initCommand.PrintDefaults()
		fmt.Printf("Option config:\n")
		configCommand.PrintDefaults()
		fmt.Printf("Option status:\n")
		statusCommand.PrintDefaults()
		fmt.Printf("Option classify:\n")
		classifyCommand.PrintDefaults()
		fmt.Printf("Option convert:\n")
		convertCommand.PrintDefaults()
		fmt.Printf("Option tensor:\n")
		tensorCommand.PrintDefaults()
		fmt.Printf("Option mcp:\n")
		mcpCommand.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(-1)
	}

	switch os.Args[1] {
	case "init":
		if err := initCommand.Parse(os.Args[2:]); err == nil {
			values := initCommand.Args()
			if len(values) != 1 {
				exitGracefully(errors.New("we need a single path entry specified"))
			}
			input_dir = initCommand.Arg(0)

			if _, err := os.Stat(input_dir); os.IsNotExist(err) {
				if err := os.Mkdir(input_dir, 0755); err != nil {
					exitGracefully(errors.New("could not create the project directory"))
				}
			}
			dir_path := filepath.Join(input_dir, "."+own_name)
			if _, err := os.Stat(dir_path); !os.IsNotExist(err) {
				exitGracefully(errors.New("this directory has already been initialized. Delete the ." + own_name + " directory to do this again"))
			}
			if err := os.Mkdir(dir_path, 0755); err != nil {
				exitGracefully(errors.New("could not create the ." + own_name + " directory"))
			}
			config := Config{
				Date: time.Now().String(),
				Author: AuthorInfo{
					Name:  author_name,
					Email: author_email,
				},
				SeriesFilter: ".*",
			}
			if !config.writeConfig() {
				exitGracefully(errors.New("could not write the config file"))
			}
			createStub(filepath.Join(input_dir, "README.md"), readme)
			fmt.Printf("Init folder %s done\n", input_dir)
		}
	case "config":
		if err := configCommand.Parse(os.Args[2:]); err == nil {
			dir_path := filepath.Join(input_dir, "."+own_name, "config")
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}

			if data_path != "" {
				config.Data.Path = data_path
				studies, err := dataSets(config)
				check(err)
				// update the config file now - the above dataSets can take a long time!
				config, err = readConfig(dir_path)
				if err != nil {
					exitGracefully(errors.New(errorConfigFile))
				}
				config.Data.DataInfo = studies
				config.Data.Path = data_path
				config.LastDataFolder = data_path
			}
			if author_name != "" {
				config.Author.Name = author_name
			}
			if author_email != "" {
				config.Author.Email = author_email
			}
			if config_series_filter != "" {
				config.SeriesFilter = config_series_filter
			}
			if config_temp_directory != "" {
				config.TempDirectory = config_temp_directory
			}
			if project_name_string != "" {
				config.ProjectName = project_name_string
			}
			if !config.writeConfig() {
				exitGracefully(errors.New("could not write the config file"))
			}
		}
	case "status":
		if err := statusCommand.Parse(os.Args[2:]); err == nil {
			dir_path := filepath.Join(input_dir, "."+own_name, "config")
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}
			if status_detailed {
				studies, err := dataSets(config)
				check(err)
				config, err = readConfig(dir_path)
				if err != nil {
					exitGracefully(errors.New(errorConfigFile))
				}
				config.Data.DataInfo = studies
				if !config.writeConfig() {
					exitGracefully(errors.New("could not write the config file"))
				}
			}
			if status_tui {
				statusTUI := StatusTUI{dataSets: config.Data.DataInfo, config: config}
				statusTUI.Init()
				return
			}
			if status_series != "" {
				previewSeries(config, status_series)
				return
			}
			file, _ := json.MarshalIndent(config, "", " ")
			fmt.Println(string(file))
		}
	case "classify":
		if err := classifyCommand.Parse(os.Args[2:]); err == nil {
			dir_path := filepath.Join(input_dir, "."+own_name, "config")
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}
			if len(config.Data.DataInfo) == 0 {
				exitGracefully(fmt.Errorf("no scan metadata yet, run\n\t%s config --data \"path-to-data\"\nfirst", own_name))
			}
			printClassification(config)
		}
	case "convert":
		if err := convertCommand.Parse(os.Args[2:]); err == nil {
			dir_path := filepath.Join(input_dir, "."+own_name, "config")
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}
			var uids []string
			if convert_series != "" {
				uids = []string{convert_series}
			} else {
				if convert_out != "" {
					exitGracefully(errors.New("--out is only valid together with --series"))
				}
				uids = filterSeries(config, config.SeriesFilter)
			}
			if len(uids) == 0 {
				exitGracefully(errors.New("no series matches the series filter"))
			}
			for _, uid := range uids {
				nifti, err := GetOrConvertNIfTI(&config, uid, convert_out, !convert_uncompressed, !convert_no_json)
				if err != nil {
					fmt.Printf("Warning: series %s not converted, %v\n", uid, err)
					continue
				}
				fmt.Printf("series %s -> %s\n", uid, nifti)
			}
			if !config.writeConfig() {
				exitGracefully(errors.New("could not write the config file"))
			}
		}
	case "tensor":
		if err := tensorCommand.Parse(os.Args[2:]); err == nil {
			if tensor_in == "" {
				exitGracefully(errors.New("we need a diffusion input image, add with\n\t--in \"<dwi file>\""))
			}
			if tensor_out == "" {
				tensor_out = filepath.Dir(tensor_in)
			}
			fit := Dwi2tensor{
				InFile: tensor_in,
				OLS:    tensor_ols,
				Force:  tensor_force,
				Mask:   tensor_mask,
			}
			outputs, err := fit.Run(contextWithInterrupt(), tensor_out)
			check(err)
			fmt.Printf("tensor fit -> %s\n", outputs["tensor_file"])
			if tensor_metrics {
				metric := Tensor2metric{
					TensorFile: outputs["tensor_file"],
					Force:      tensor_force,
					Mask:       tensor_mask,
				}
				maps, err := metric.Run(contextWithInterrupt(), tensor_out)
				check(err)
				fmt.Printf("fa -> %s\nadc -> %s\n", maps["fa"], maps["adc"])
			}
		}
	case "mcp":
		if err := mcpCommand.Parse(os.Args[2:]); err == nil {
			check(startMCP(mcp_http, input_dir))
		}
	default:
		// fall back to parsing without a command
		flag.Parse()
		if show_version {
			fmt.Printf("%s version %s%s\n", own_name, version, compileDate)
			os.Exit(0)
		}
		flag.Usage()
		os.Exit(-1)
	}
}
