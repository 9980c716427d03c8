package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_commonPath(t *testing.T) {
	// Defining our test cases
	tests := []struct {
		name string
		a    string
		b    string
		want string
	}{
		{"Identical paths", "/data/study/series", "/data/study/series", "/data/study/series"},
		{"Sibling folders", "/data/study/series01", "/data/study/series02", "/data/study"},
		{"Nested folder", "/data/study", "/data/study/series01", "/data/study"},
		{"Nothing in common", "/data", "/archive", ""},
	}
	// Iterating our test cases as usual
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commonPath(tt.a, tt.b); got != tt.want {
				t.Errorf("commonPath(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func Test_defaultNiftiDestination(t *testing.T) {
	tests := []struct {
		name string
		info ScanInfo
		want string
	}{
		{
			"The DICOM path segment is mirrored",
			ScanInfo{Path: "/archive/sub01/DICOM/study", SeriesNumber: 3},
			"/archive/sub01/NIfTI/study/3",
		},
		{
			"A path without a DICOM segment keeps its folder",
			ScanInfo{Path: "/archive/sub01/images", SeriesNumber: 12},
			"/archive/sub01/images/12",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := defaultNiftiDestination(tt.info); got != tt.want {
				t.Errorf("defaultNiftiDestination() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_findScanInfo(t *testing.T) {
	store := map[string]map[string]ScanInfo{
		"study1": {
			"series1.1": {SeriesDescription: "t1", SeriesNumber: 2},
		},
		"study2": {
			"series2.1": {SeriesDescription: "dwi", SeriesNumber: 7},
		},
	}
	info, err := findScanInfo(store, "series2.1")
	if err != nil {
		t.Fatalf("findScanInfo() unexpected error %v", err)
	}
	if info.SeriesDescription != "dwi" {
		t.Errorf("findScanInfo() = %v, want the dwi series", info)
	}
	if _, err := findScanInfo(store, "does-not-exist"); err == nil {
		t.Errorf("findScanInfo() found a series that is not in the store")
	}
}

func Test_getOrConvertNIfTI(t *testing.T) {
	t.Run("An existing conversion is reused", func(t *testing.T) {
		dir := t.TempDir()
		nifti := filepath.Join(dir, "3.nii.gz")
		if err := os.WriteFile(nifti, []byte("nifti"), 0644); err != nil {
			t.Fatal(err)
		}
		config := Config{
			Data: DataInfo{
				DataInfo: map[string]map[string]ScanInfo{
					"study1": {
						"series1": {SeriesDescription: "t1", NiftiPath: nifti},
					},
				},
			},
		}
		got, err := GetOrConvertNIfTI(&config, "series1", "", true, true)
		if err != nil {
			t.Fatalf("GetOrConvertNIfTI() unexpected error %v", err)
		}
		if got != nifti {
			t.Errorf("GetOrConvertNIfTI() = %q, want the recorded path %q", got, nifti)
		}
	})
	t.Run("Localizer series are refused", func(t *testing.T) {
		config := Config{
			Data: DataInfo{
				DataInfo: map[string]map[string]ScanInfo{
					"study1": {
						"series1": {SeriesDescription: "scout", SequenceType: "Localizer"},
					},
				},
			},
		}
		_, err := GetOrConvertNIfTI(&config, "series1", "", true, true)
		if err == nil {
			t.Fatalf("GetOrConvertNIfTI() converted a localizer")
		}
		if !strings.Contains(err.Error(), "localizer") {
			t.Errorf("GetOrConvertNIfTI() error = %v, want the localizer refusal", err)
		}
	})
	t.Run("An unknown series is an error", func(t *testing.T) {
		config := Config{Data: DataInfo{DataInfo: map[string]map[string]ScanInfo{}}}
		if _, err := GetOrConvertNIfTI(&config, "missing", "", true, true); err == nil {
			t.Errorf("GetOrConvertNIfTI() should fail for a series that is not in the store")
		}
	})
}
