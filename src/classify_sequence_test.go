package main

import (
	"testing"
)

func Test_sameCodes(t *testing.T) {
	// Defining our test cases
	tests := []struct {
		name string
		a    []string
		b    []string
		want bool
	}{
		{"Identical lists", []string{"GR", "IR"}, []string{"GR", "IR"}, true},
		{"Order does not matter", []string{"IR", "GR"}, []string{"GR", "IR"}, true},
		{"Duplicates are collapsed", []string{"GR", "GR"}, []string{"GR"}, true},
		{"Different codes", []string{"GR"}, []string{"EP"}, false},
		{"Subset is not equal", []string{"GR"}, []string{"GR", "IR"}, false},
		{"Superset is not equal", []string{"GR", "IR"}, []string{"GR"}, false},
		{"Both empty", nil, nil, true},
		{"One empty", []string{"GR"}, nil, false},
	}
	// Iterating our test cases as usual
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameCodes(tt.a, tt.b); got != tt.want {
				t.Errorf("sameCodes(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func Test_findSequenceType(t *testing.T) {
	catalog := []SequenceType{
		{Title: "MPRAGE", ScanningSequence: []string{"GR", "IR"}, SequenceVariant: []string{"SK", "SP", "MP"}},
		{Title: "DWI (derived)", ScanningSequence: []string{"EP"}, SequenceVariant: []string{"NONE"}},
	}
	tests := []struct {
		name      string
		scanning  []string
		variant   []string
		wantTitle string
		wantOk    bool
	}{
		{"Exact match", []string{"GR", "IR"}, []string{"SK", "SP", "MP"}, "MPRAGE", true},
		{"Match with the codes in scanner order", []string{"IR", "GR"}, []string{"MP", "SP", "SK"}, "MPRAGE", true},
		{"The NONE variant is a real code value", []string{"EP"}, []string{"NONE"}, "DWI (derived)", true},
		{"Unknown combination stays unclassified", []string{"SE"}, []string{"SK"}, "", false},
		{"A partial variant match is no match", []string{"GR", "IR"}, []string{"SK", "SP"}, "", false},
		{"Empty codes stay unclassified", nil, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := findSequenceType(catalog, tt.scanning, tt.variant)
			if ok != tt.wantOk {
				t.Errorf("findSequenceType() ok = %v, want %v", ok, tt.wantOk)
			}
			if entry.Title != tt.wantTitle {
				t.Errorf("findSequenceType() = %q, want %q", entry.Title, tt.wantTitle)
			}
		})
	}
}

func Test_findSequenceTypeEmptyCatalog(t *testing.T) {
	// an empty catalog means nothing is classified, it must not fail
	if _, ok := findSequenceType(nil, []string{"EP"}, []string{"NONE"}); ok {
		t.Errorf("findSequenceType() found a match in an empty catalog")
	}
}

func Test_loadSequenceTypes(t *testing.T) {
	// the embedded catalog must parse and contain the types we rely on
	catalog := loadSequenceTypes()
	if len(catalog) == 0 {
		t.Fatalf("loadSequenceTypes() returned an empty catalog")
	}
	wanted := []string{"Localizer", "MPRAGE", "DWI (derived)"}
	for _, title := range wanted {
		found := false
		for _, entry := range catalog {
			if entry.Title == title {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("loadSequenceTypes() is missing the %q entry", title)
		}
	}
	// the catalog must be unique over the code set pair, otherwise the
	// lookup would be ambiguous
	for i := range catalog {
		for j := i + 1; j < len(catalog); j++ {
			if sameCodes(catalog[i].ScanningSequence, catalog[j].ScanningSequence) &&
				sameCodes(catalog[i].SequenceVariant, catalog[j].SequenceVariant) {
				t.Errorf("catalog entries %q and %q share the same code sets", catalog[i].Title, catalog[j].Title)
			}
		}
	}
}

func Test_inferSequenceType(t *testing.T) {
	entry, ok := InferSequenceType([]string{"EP"}, []string{"NONE"})
	if !ok {
		t.Fatalf("InferSequenceType() did not classify EP/NONE")
	}
	if entry.Title != "DWI (derived)" {
		t.Errorf("InferSequenceType() = %q, want DWI (derived)", entry.Title)
	}
}
