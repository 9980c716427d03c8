package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// status_tui.go is the interactive browser behind `mrc status --tui`. The
// tree lists the detected studies with their series, the summary pane
// shows the scan parameters and the inferred sequence type, the viewer
// animates through the images of the selected series.

type StatusTUI struct {
	dataSets           map[string]map[string]ScanInfo
	viewer             *tview.TextView
	summary            *tview.TextView
	selection          *tview.TreeView
	app                *tview.Application
	flex               *tview.Flex
	selectedDatasets   []dicom.Dataset
	currentImage       int
	selectedScan       ScanInfo
	config             Config
	stopAnimation      bool
	lastSelectedSeries string
}

func (statusTUI *StatusTUI) addDataset(dataset dicom.Dataset) {
	if len(statusTUI.selectedDatasets) == 0 {
		// this is the first time we add a dataset, show the
		// meta-data if we have an app
		if statusTUI.app != nil {
			statusTUI.summary.Clear()
			fmt.Fprintf(statusTUI.summary, "%s", scanSummary(statusTUI.selectedScan))
		}
	}
	statusTUI.selectedDatasets = append(statusTUI.selectedDatasets, dataset)
}

// scanSummary is the text for the summary pane.
func scanSummary(info ScanInfo) string {
	sequenceType := info.SequenceType
	if sequenceType == "" {
		sequenceType = "unclassified"
	}
	var resolution []string
	for _, r := range info.SpatialResolution {
		resolution = append(resolution, fmt.Sprintf("%.2f", r))
	}
	niftiPath := info.NiftiPath
	if niftiPath == "" {
		niftiPath = "not converted"
	}
	return fmt.Sprintf("%s\n%s\n\nscanning sequence: %s\nsequence variant: %s\nTE: %.2f TR: %.2f TI: %.2f\nvoxel size: %s\nNIfTI: %s\n",
		info.SeriesDescription, sequenceType,
		strings.Join(info.ScanningSequence, ", "), strings.Join(info.SequenceVariant, ", "),
		info.EchoTime, info.RepetitionTime, info.InversionTime,
		strings.Join(resolution, "x"), niftiPath)
}

func (statusTUI *StatusTUI) Init() {
	if len(statusTUI.dataSets) == 0 {
		fmt.Println("Warning: there are no datasets to visualize")
	}
	newPrimitive := func(text string) *tview.TextView {
		return tview.NewTextView().
			SetTextAlign(tview.AlignLeft).
			SetText(text)
	}
	statusTUI.summary = newPrimitive("")
	statusTUI.summary.SetBorder(true).SetTitle("Current selection")
	statusTUI.viewer = newPrimitive("").SetDynamicColors(true)
	statusTUI.selection = tview.NewTreeView()
	statusTUI.selection.SetBorder(true)
	statusTUI.selection.SetTitle("Studies")
	statusTUI.viewer.SetBorder(true).SetTitle("DICOM")

	// we set a text color only if the value is set (not equal to empty string)
	if statusTUI.config.Viewer.TextColor != "" {
		col := tcell.GetColor(statusTUI.config.Viewer.TextColor)
		statusTUI.viewer.SetTextColor(col)
	}

	statusTUI.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(statusTUI.summary, 34, 1, false).
			AddItem(statusTUI.viewer, 0, 1, true), 0, 1, false).
		AddItem(statusTUI.selection, 12, 1, false)

	root := tview.NewTreeNode("Studies").SetReference("")
	statusTUI.selection.SetRoot(root).SetCurrentNode(root)

	var studyUIDs []string
	for uid := range statusTUI.dataSets {
		studyUIDs = append(studyUIDs, uid)
	}
	sort.Strings(studyUIDs)
	for idx, StudyInstanceUID := range studyUIDs {
		series := statusTUI.dataSets[StudyInstanceUID]
		var uids []string
		for uid := range series {
			uids = append(uids, uid)
		}
		// sort the series in each study by series number first
		sort.Slice(uids, func(i, j int) bool {
			if series[uids[i]].SeriesNumber != series[uids[j]].SeriesNumber {
				return series[uids[i]].SeriesNumber < series[uids[j]].SeriesNumber
			}
			return series[uids[i]].SeriesDescription < series[uids[j]].SeriesDescription
		})
		first := series[uids[0]]
		node := tview.NewTreeNode(fmt.Sprintf("%d/%d %s-%s [yellow]%s %s", idx+1, len(studyUIDs), first.PatientID, first.PatientName, first.StudyDate, first.StudyDescription)).
			SetSelectable(false)
		root.AddChild(node)
		for _, uid := range uids {
			info := series[uid]
			s := "s"
			if info.NumImages == 1 {
				s = ""
			}
			sequenceType := info.SequenceType
			if sequenceType == "" {
				sequenceType = "unclassified"
			}
			node2 := tview.NewTreeNode(fmt.Sprintf("series %03d [blue]\"%s\"[-] %s [gray]%s[-] %d image%s", info.SeriesNumber, info.SeriesDescription, sequenceType, uid, info.NumImages, s)).
				SetReference(uid).
				SetSelectable(true)
			node.AddChild(node2)
		}
	}

	statusTUI.selection.SetSelectedFunc(func(node *tview.TreeNode) {
		// calling this function twice for the same node should disable the function again
		SeriesInstanceUID := node.GetReference().(string)
		if statusTUI.lastSelectedSeries == SeriesInstanceUID {
			statusTUI.stopAnimation = true
			statusTUI.lastSelectedSeries = "" // set to empty so we can start it again after the next select
			return
		}
		statusTUI.stopAnimation = false
		statusTUI.lastSelectedSeries = SeriesInstanceUID

		if len(SeriesInstanceUID) == 0 {
			return
		}
		series, err := findScanInfo(statusTUI.dataSets, SeriesInstanceUID)
		if err != nil {
			return
		}
		statusTUI.selectedScan = series
		searchPath := series.Path
		if _, err := os.Stat(searchPath); os.IsNotExist(err) {
			if statusTUI.app != nil {
				fmt.Fprintf(statusTUI.viewer, "The path %s could not be found. Maybe a drive was disconnected?\n", searchPath)
			}
			return
		}
		statusTUI.selectedDatasets = nil
		statusTUI.currentImage = 0
		filepath.Walk(searchPath, func(path string, fileInfo os.FileInfo, err error) error {
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
			if stringTag(dataset, tag.SeriesInstanceUID) != SeriesInstanceUID {
				return nil // ignore that file
			}
			if _, err := dataset.FindElementByTag(tag.PixelData); err != nil {
				return nil // ignore files without images
			}
			statusTUI.addDataset(dataset)
			return nil
		})

		children := node.GetChildren()
		if len(children) > 0 {
			// Collapse if visible, expand if collapsed.
			node.SetExpanded(!node.IsExpanded())
		}
	})

	statusTUI.Run()
}

func doEvery(d time.Duration, statusTUI *StatusTUI, f func(*StatusTUI, time.Time)) {
	for x := range time.Tick(d) {
		f(statusTUI, x)
	}
}

func showImage(statusTUI *StatusTUI, idx int) {
	if idx >= len(statusTUI.selectedDatasets) {
		idx = len(statusTUI.selectedDatasets) - 1
	}
	if idx < 0 {
		idx = 0
	}
	statusTUI.currentImage = idx
	statusTUI.viewer.Clear()
	showDataset(statusTUI.selectedDatasets[idx], 1, "", "", statusTUI.viewer)
	if statusTUI.app != nil {
		statusTUI.viewer.SetTitle(fmt.Sprintf("DICOM image %d/%d", statusTUI.currentImage+1, len(statusTUI.selectedDatasets)))
		statusTUI.app.Draw()
	}
}

// nextImage displays one image from the currently selected image series in the viewer
func nextImage(statusTUI *StatusTUI, t time.Time) {
	if statusTUI.stopAnimation {
		return
	}
	if len(statusTUI.selectedDatasets) == 0 {
		return
	}
	idx := (statusTUI.currentImage + 1) % len(statusTUI.selectedDatasets)
	showImage(statusTUI, idx)
}

func (statusTUI *StatusTUI) Run() {
	statusTUI.stopAnimation = false
	// a timer advances the animation in the viewer, 'c' pauses it
	go doEvery(200*time.Millisecond, statusTUI, nextImage)

	statusTUI.app = tview.NewApplication()

	statusTUI.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		k := event.Key()
		prim := statusTUI.app.GetFocus()
		if statusTUI.stopAnimation && prim == statusTUI.viewer {
			if k == tcell.KeyDown {
				showImage(statusTUI, statusTUI.currentImage+1)
			} else if k == tcell.KeyUp {
				showImage(statusTUI, statusTUI.currentImage-1)
			}
		}
		if k == tcell.KeyRune && event.Rune() == rune('c') {
			statusTUI.stopAnimation = !statusTUI.stopAnimation
		}
		return event
	})

	if err := statusTUI.app.SetRoot(statusTUI.flex, true).SetFocus(statusTUI.selection).EnableMouse(true).Run(); err != nil {
		fmt.Println("Error: The --tui mode is only available in a propper terminal.")
		panic(err)
	}
	defer statusTUI.app.Stop()
}

func (statusTUI *StatusTUI) Stop() {
	statusTUI.app.Stop()
}
