package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func Test_configRoundTrip(t *testing.T) {
	// writeConfig uses the input_dir global, point it at a fresh folder
	dir := t.TempDir()
	oldInputDir := input_dir
	input_dir = dir
	defer func() { input_dir = oldInputDir }()

	if err := os.Mkdir(filepath.Join(dir, "."+own_name), 0755); err != nil {
		t.Fatal(err)
	}
	config := Config{
		Date:         "2026-08-29",
		ProjectName:  "project01",
		SeriesFilter: ".*",
		Author:       AuthorInfo{Name: "Test Author", Email: "author@example.com"},
		Data: DataInfo{
			Path: "/data/project01",
			DataInfo: map[string]map[string]ScanInfo{
				"study1": {
					"series1": {
						SeriesDescription: "t1_mprage",
						SeriesNumber:      3,
						NumImages:         176,
						ScanningSequence:  []string{"GR", "IR"},
						SequenceVariant:   []string{"SK", "SP", "MP"},
						SequenceType:      "MPRAGE",
					},
				},
			},
		},
	}
	if ok := config.writeConfig(); !ok {
		t.Fatalf("writeConfig() failed")
	}
	got, err := readConfig(filepath.Join(dir, "."+own_name, "config"))
	if err != nil {
		t.Fatalf("readConfig() unexpected error %v", err)
	}
	if !reflect.DeepEqual(got, config) {
		t.Errorf("readConfig() = %+v, want %+v", got, config)
	}
}

func Test_writeConfigWithoutProject(t *testing.T) {
	// without an init there is no .mrc folder and nothing should be written
	dir := t.TempDir()
	oldInputDir := input_dir
	input_dir = dir
	defer func() { input_dir = oldInputDir }()

	if ok := (Config{}).writeConfig(); ok {
		t.Errorf("writeConfig() succeeded without a project folder")
	}
}

func Test_readConfigMissing(t *testing.T) {
	if _, err := readConfig(filepath.Join(t.TempDir(), "config")); err == nil {
		t.Errorf("readConfig() should fail for a missing file")
	}
}

func Test_filterSeries(t *testing.T) {
	config := Config{
		Data: DataInfo{
			DataInfo: map[string]map[string]ScanInfo{
				"study1": {
					"series1.2": {SeriesDescription: "t1_mprage", SeriesNumber: 2, SequenceType: "MPRAGE"},
					"series1.1": {SeriesDescription: "scout", SeriesNumber: 1, SequenceType: "Localizer"},
					"series1.3": {SeriesDescription: "dwi_64dir", SeriesNumber: 9, SequenceType: "DWI"},
				},
			},
		},
	}
	// Defining our test cases
	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{"The default filter matches everything in series number order", "", []string{"series1.1", "series1.2", "series1.3"}},
		{"Filter on the sequence type", "SequenceType: MPRAGE", []string{"series1.2"}},
		{"Filter on the series description", "SeriesDescription: dwi", []string{"series1.3"}},
		{"A filter without a match returns nothing", "SequenceType: fMRI", nil},
	}
	// Iterating our test cases as usual
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterSeries(config, tt.filter); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filterSeries() = %v, want %v", got, tt.want)
			}
		})
	}
}
