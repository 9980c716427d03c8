package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// scan.go keeps the metadata we know about every image series in the data
// directory. The store is the Data.DataInfo part of the project config,
// a map StudyInstanceUID -> SeriesInstanceUID -> ScanInfo that is written
// back to .mrc/config after a parse.

// ScanInfo is one MRI scan (one DICOM series) described independently of
// the format it is stored in. The acquisition timing fields are in
// milliseconds, straight from the header.
type ScanInfo struct {
	SeriesDescription     string
	NumImages             int
	SeriesNumber          int
	SequenceName          string
	Modality              string
	StudyDescription      string
	Manufacturer          string
	ManufacturerModelName string
	Path                  string
	PatientID             string
	PatientName           string
	StudyDate             string
	StudyTime             string
	EchoTime              float64
	RepetitionTime        float64
	InversionTime         float64
	SpatialResolution     []float64
	ScanningSequence      []string
	SequenceVariant       []string
	SequenceType          string
	NiftiPath             string
}

// Description summarizes one staged series, written as descr.json next to
// the staged files so the converter run can be audited later.
type Description struct {
	SeriesInstanceUID string
	StudyInstanceUID  string
	SeriesDescription string
	SeriesNumber      string
	NumFiles          int
	Modality          string
	PatientID         string
	PatientName       string
	SequenceName      string
	SequenceType      string
	StudyDate         string
	StudyTime         string
	SeriesTime        string
	ProcessDataPath   string
}

func stringTag(dataset dicom.Dataset, t tag.Tag) string {
	value, err := dataset.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if value.Value.ValueType() != dicom.Strings {
		return ""
	}
	strs := value.Value.GetValue().([]string)
	if len(strs) == 0 {
		return ""
	}
	return strs[0]
}

func floatTag(dataset dicom.Dataset, name string) float64 {
	info, err := tag.FindByName(name)
	if err != nil {
		return 0
	}
	value, err := dataset.FindElementByTag(info.Tag)
	if err != nil {
		return 0
	}
	switch value.Value.ValueType() {
	case dicom.Strings:
		strs := value.Value.GetValue().([]string)
		if len(strs) == 0 {
			return 0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(strs[0]), 64)
		if err != nil {
			return 0
		}
		return f
	case dicom.Floats:
		floats := value.Value.GetValue().([]float64)
		if len(floats) == 0 {
			return 0
		}
		return floats[0]
	}
	return 0
}

// updateFromDICOM fills the universal scan attributes from the header of
// one image of the series. Echo/repetition/inversion time and the voxel
// size are the fields people filter scans by.
func (info *ScanInfo) updateFromDICOM(dataset dicom.Dataset) {
	info.EchoTime = floatTag(dataset, "EchoTime")
	info.RepetitionTime = floatTag(dataset, "RepetitionTime")
	info.InversionTime = floatTag(dataset, "InversionTime")

	// in-plane resolution plus slice thickness
	var resolution []float64
	if pixelSpacing, err := tag.FindByName("PixelSpacing"); err == nil {
		if value, err := dataset.FindElementByTag(pixelSpacing.Tag); err == nil && value.Value.ValueType() == dicom.Strings {
			for _, s := range value.Value.GetValue().([]string) {
				if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
					resolution = append(resolution, f)
				}
			}
		}
	}
	if thickness := floatTag(dataset, "SliceThickness"); thickness > 0 {
		resolution = append(resolution, thickness)
	}
	if len(resolution) > 0 {
		info.SpatialResolution = resolution
	}

	info.ScanningSequence, info.SequenceVariant = readSequenceCodes(dataset)
	if entry, ok := InferSequenceType(info.ScanningSequence, info.SequenceVariant); ok {
		info.SequenceType = entry.Title
	}
}

// findScanInfo looks a series up across all studies of the store.
func findScanInfo(dataSets map[string]map[string]ScanInfo, SeriesInstanceUID string) (ScanInfo, error) {
	for _, series := range dataSets {
		if info, ok := series[SeriesInstanceUID]; ok {
			return info, nil
		}
	}
	return ScanInfo{}, fmt.Errorf("SeriesInstanceUID %s not found", SeriesInstanceUID)
}

// dataSets parses the config.Data path for DICOM files. It returns the
// detected studies and series with their scan metadata. Parsing a big
// archive takes a while, a running counter is printed while we walk.
func dataSets(config Config) (map[string]map[string]ScanInfo, error) {
	var datasets = make(map[string]map[string]ScanInfo)
	if config.Data.Path == "" {
		return datasets, fmt.Errorf("no data path has been specified. Use\n\t%s config --data \"path-to-data\" to set a directory of DICOM data", own_name)
	}
	var input_path_list []string
	if _, err := os.Stat(config.Data.Path); err != nil && os.IsNotExist(err) {
		// could be a list of paths if we have a glob string
		input_path_list, err = filepath.Glob(config.Data.Path)
		if err != nil || len(input_path_list) < 1 {
			return datasets, fmt.Errorf("data path %s does not exist or is empty", config.Data.Path)
		}
	} else {
		input_path_list = append(input_path_list, config.Data.Path)
	}
	counter := 0
	nonDICOM := 0
	langFmt := message.NewPrinter(language.English)
	for p := range input_path_list {
		err := filepath.Walk(input_path_list[p], func(path string, fileInfo os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fileInfo.IsDir() {
				return nil
			}
			if filepath.Ext(fileInfo.Name()) == ".zip" {
				// ignore compressed files, those are large and not DICOM
				nonDICOM = nonDICOM + 1
				return nil
			}

			dataset, err := dicom.ParseFile(path, nil)
			if err != nil && fmt.Sprintf("%s", err) == "unexpected EOF" {
				// some files with an undeclared value representation still
				// parse up to that element, keep what we have
				err = nil
			}
			if err != nil {
				nonDICOM = nonDICOM + 1
				return nil
			}

			StudyInstanceUID := stringTag(dataset, tag.StudyInstanceUID)
			if StudyInstanceUID == "" {
				// we cannot reference this file later, skip it
				return nil
			}
			SeriesInstanceUID := stringTag(dataset, tag.SeriesInstanceUID)
			if SeriesInstanceUID == "" {
				return nil
			}

			counter = counter + 1
			langFmt.Printf("%d files\r", counter)

			SeriesNumber, err := strconv.Atoi(strings.TrimSpace(stringTag(dataset, tag.SeriesNumber)))
			if err != nil {
				SeriesNumber = 0
			}
			abs_path, err := filepath.Abs(path)
			if err != nil {
				abs_path = path
			}
			path_pieces := filepath.Dir(abs_path)

			if _, ok := datasets[StudyInstanceUID]; !ok {
				datasets[StudyInstanceUID] = make(map[string]ScanInfo)
			}
			if val, ok := datasets[StudyInstanceUID][SeriesInstanceUID]; ok {
				// only count the image, the metadata is from the first file
				val.NumImages = val.NumImages + 1
				val.Path = commonPath(val.Path, path_pieces)
				datasets[StudyInstanceUID][SeriesInstanceUID] = val
			} else {
				info := ScanInfo{
					NumImages:             1,
					SeriesDescription:     stringTag(dataset, tag.SeriesDescription),
					SeriesNumber:          SeriesNumber,
					SequenceName:          stringTag(dataset, tag.SequenceName),
					Modality:              stringTag(dataset, tag.Modality),
					Manufacturer:          stringTag(dataset, tag.Manufacturer),
					ManufacturerModelName: stringTag(dataset, tag.ManufacturerModelName),
					StudyDescription:      stringTag(dataset, tag.StudyDescription),
					PatientID:             stringTag(dataset, tag.PatientID),
					PatientName:           stringTag(dataset, tag.PatientName),
					StudyDate:             stringTag(dataset, tag.StudyDate),
					StudyTime:             stringTag(dataset, tag.StudyTime),
					Path:                  path_pieces,
				}
				info.updateFromDICOM(dataset)
				datasets[StudyInstanceUID][SeriesInstanceUID] = info
			}
			return nil
		})
		if err != nil {
			fmt.Println("Warning: could not walk this path")
		}
	}
	langFmt.Printf("parsed %d DICOM files, ignored %d non-DICOM files\n", counter, nonDICOM)
	return datasets, nil
}

// commonPath returns the longest common directory prefix of the two paths.
// A series that is spread over several folders is referenced by the folder
// that contains all of them.
func commonPath(a string, b string) string {
	if a == b {
		return a
	}
	l1 := strings.Split(a, string(os.PathSeparator))
	l2 := strings.Split(b, string(os.PathSeparator))
	var lcp []string
	for i := 0; i < len(l1) && i < len(l2); i++ {
		if l1[i] != l2[i] {
			break
		}
		lcp = append(lcp, l1[i])
	}
	return strings.Join(lcp, string(os.PathSeparator))
}

// copySeriesFiles stages all DICOM files of one series into dest_path/input
// so the converter sees a clean directory with nothing else in it. Returns
// the number of copied files and a description of the staged series.
func copySeriesFiles(SelectedSeriesInstanceUID string, source_path string, dest_path string) (int, Description) {
	destination_path := filepath.Join(dest_path, "input")
	if _, err := os.Stat(destination_path); os.IsNotExist(err) {
		if err := os.Mkdir(destination_path, 0755); err != nil {
			exitGracefully(fmt.Errorf("could not create data directory %s", destination_path))
		}
	}
	var description Description
	description.SeriesInstanceUID = SelectedSeriesInstanceUID
	description.ProcessDataPath = dest_path
	counter := 0
	err := filepath.Walk(source_path, func(path string, fileInfo os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fileInfo.IsDir() {
			return nil
		}
		dataset, err := dicom.ParseFile(path, nil)
		if err != nil {
			return nil
		}
		if stringTag(dataset, tag.SeriesInstanceUID) != SelectedSeriesInstanceUID {
			return nil // ignore that file
		}
		if description.SeriesDescription == "" {
			description.SeriesDescription = stringTag(dataset, tag.SeriesDescription)
			description.SeriesNumber = stringTag(dataset, tag.SeriesNumber)
			description.StudyInstanceUID = stringTag(dataset, tag.StudyInstanceUID)
			description.Modality = stringTag(dataset, tag.Modality)
			description.PatientID = stringTag(dataset, tag.PatientID)
			description.PatientName = stringTag(dataset, tag.PatientName)
			description.SequenceName = stringTag(dataset, tag.SequenceName)
			description.StudyDate = stringTag(dataset, tag.StudyDate)
			description.StudyTime = stringTag(dataset, tag.StudyTime)
			description.SeriesTime = stringTag(dataset, tag.SeriesTime)
			description.SequenceType = ClassifySequence(dataset)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		// what is the next unused filename? We can have this case if other
		// series are exported as well
		outputPathFileName := filepath.Join(destination_path, fmt.Sprintf("%06d.dcm", counter))
		_, err = os.Stat(outputPathFileName)
		for !os.IsNotExist(err) {
			counter = counter + 1
			outputPathFileName = filepath.Join(destination_path, fmt.Sprintf("%06d.dcm", counter))
			_, err = os.Stat(outputPathFileName)
		}
		if err := os.WriteFile(outputPathFileName, data, 0644); err != nil {
			return nil
		}
		counter = counter + 1
		return nil
	})
	if err != nil {
		fmt.Println("Warning: could not walk this path")
	}
	description.NumFiles = counter
	return counter, description
}

// defaultNiftiDestination computes where a converted series should end up
// if the caller does not say. The DICOM folder name is mirrored with the
// "DICOM" path segment replaced by "NIfTI", the file name is the series
// number.
func defaultNiftiDestination(info ScanInfo) string {
	directory := strings.Replace(info.Path, "DICOM", "NIfTI", 1)
	name := fmt.Sprintf("%d", info.SeriesNumber)
	return filepath.Join(directory, name)
}

// GetOrConvertNIfTI returns the NIfTI version of a series. If a conversion
// result is already recorded in the store and the file still exists that
// path is returned, otherwise the series files are staged and dcm2niix is
// called. The store entry is updated with the new path, the caller is
// responsible for writing the config back to disk.
func GetOrConvertNIfTI(config *Config, SeriesInstanceUID string, destination string, compressed bool, generateJSON bool) (string, error) {
	info, err := findScanInfo(config.Data.DataInfo, SeriesInstanceUID)
	if err != nil {
		return "", err
	}
	if info.SequenceType == "Localizer" {
		return "", fmt.Errorf("localizer scans are not converted to NIfTI")
	}
	if info.NiftiPath != "" {
		if _, err := os.Stat(info.NiftiPath); err == nil {
			return info.NiftiPath, nil
		}
	}
	if destination == "" {
		destination = defaultNiftiDestination(info)
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return "", fmt.Errorf("could not create output directory %s", filepath.Dir(destination))
	}

	stageDir, err := os.MkdirTemp(config.TempDirectory, fmt.Sprintf("%s_convert_*", own_name))
	if err != nil {
		return "", fmt.Errorf("could not create the temporary directory for staging")
	}
	defer os.RemoveAll(stageDir)
	numFiles, description := copySeriesFiles(SeriesInstanceUID, info.Path, stageDir)
	if numFiles == 0 {
		return "", fmt.Errorf("no files found for series %s under %s", SeriesInstanceUID, info.Path)
	}
	writeDescription(description, stageDir)

	converter := Dcm2niix{
		SourceDir:    filepath.Join(stageDir, "input"),
		Destination:  destination,
		Compressed:   compressed,
		GenerateJSON: generateJSON,
	}
	nifti, err := converter.Convert(context.Background())
	if err != nil {
		return "", err
	}

	// record the conversion in the store
	for studyUID, series := range config.Data.DataInfo {
		if entry, ok := series[SeriesInstanceUID]; ok {
			entry.NiftiPath = nifti
			config.Data.DataInfo[studyUID][SeriesInstanceUID] = entry
		}
	}
	return nifti, nil
}
