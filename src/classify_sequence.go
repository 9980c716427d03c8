package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

//go:embed templates/sequenceTypes.json
var sequenceTypesJSON string

// A SequenceType names an MRI acquisition type based on the coded
// ScanningSequence (0018,0020) and SequenceVariant (0018,0021) header
// values. The catalog is unique over that pair of code sets, so a lookup
// returns at most one entry.
type SequenceType struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	ScanningSequence []string `json:"scanning_sequence"`
	SequenceVariant  []string `json:"sequence_variant"`
}

// code values DICOM allows for the two attributes, anything else in a
// catalog is a typo we want to hear about
var knownScanningSequence = []string{"SE", "IR", "GR", "EP", "RM"}
var knownSequenceVariant = []string{"SK", "MTC", "SS", "TRSS", "SP", "MP", "OSP", "NONE"}

var sequenceTypeCatalog []SequenceType

func loadSequenceTypes() []SequenceType {
	if sequenceTypeCatalog != nil {
		return sequenceTypeCatalog
	}
	var catalog []SequenceType
	if err := json.Unmarshal([]byte(sequenceTypesJSON), &catalog); err != nil {
		fmt.Println("Warning: could not parse the embedded sequence type catalog,", err)
		return nil
	}
	for _, entry := range catalog {
		for _, code := range entry.ScanningSequence {
			if !containsCode(knownScanningSequence, code) {
				fmt.Printf("Warning: unknown scanning sequence code %q for %s\n", code, entry.Title)
			}
		}
		for _, code := range entry.SequenceVariant {
			if !containsCode(knownSequenceVariant, code) {
				fmt.Printf("Warning: unknown sequence variant code %q for %s\n", code, entry.Title)
			}
		}
	}
	sequenceTypeCatalog = catalog
	return sequenceTypeCatalog
}

func containsCode(list []string, code string) bool {
	for _, c := range list {
		if c == code {
			return true
		}
	}
	return false
}

// sameCodes compares two code lists as sets, the order the scanner writes
// them in is not meaningful and duplicates are collapsed.
func sameCodes(a []string, b []string) bool {
	seen := make(map[string]bool)
	for _, code := range a {
		seen[code] = true
	}
	other := make(map[string]bool)
	for _, code := range b {
		if !seen[code] {
			return false
		}
		other[code] = true
	}
	return len(seen) == len(other)
}

// findSequenceType looks up the exact catalog entry for the two code sets.
// There is no fuzzy matching, either the pair is in the catalog or the
// scan stays unclassified (ok == false, never an error).
func findSequenceType(catalog []SequenceType, scanning []string, variant []string) (SequenceType, bool) {
	for _, entry := range catalog {
		if sameCodes(entry.ScanningSequence, scanning) && sameCodes(entry.SequenceVariant, variant) {
			return entry, true
		}
	}
	return SequenceType{}, false
}

// InferSequenceType classifies against the embedded catalog.
func InferSequenceType(scanning []string, variant []string) (SequenceType, bool) {
	return findSequenceType(loadSequenceTypes(), scanning, variant)
}

// readSequenceCodes pulls the two coded attributes out of a parsed DICOM
// dataset. Either list can be empty if the header does not carry the tag,
// multi-valued entries arrive either as separate values or backslash
// separated in a single string, we accept both.
func readSequenceCodes(dataset dicom.Dataset) (scanning []string, variant []string) {
	readCodes := func(name string) []string {
		info, err := tag.FindByName(name)
		if err != nil {
			return nil
		}
		element, err := dataset.FindElementByTag(info.Tag)
		if err != nil {
			return nil
		}
		if element.Value.ValueType() != dicom.Strings {
			return nil
		}
		var codes []string
		for _, value := range element.Value.GetValue().([]string) {
			for _, code := range strings.Split(value, "\\") {
				code = strings.TrimSpace(code)
				if code != "" {
					codes = append(codes, code)
				}
			}
		}
		return codes
	}
	return readCodes("ScanningSequence"), readCodes("SequenceVariant")
}

// ClassifySequence is the convenience entry used while walking the data
// directory, it returns the catalog title or an empty string.
func ClassifySequence(dataset dicom.Dataset) string {
	scanning, variant := readSequenceCodes(dataset)
	if len(scanning) == 0 && len(variant) == 0 {
		return ""
	}
	if entry, ok := InferSequenceType(scanning, variant); ok {
		return entry.Title
	}
	return ""
}
