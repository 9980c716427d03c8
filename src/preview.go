package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"golang.org/x/image/draw"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// preview.go renders a DICOM frame as ASCII art on the terminal. Used by
// the status TUI and by the detailed status walk so the user can see what
// series they are about to convert.

// from http://paulbourke.net/dataformats/asciiart/
var asciiTable = "$@B%8&WM#*oahkbdpqwmZO0QLCJUYXzcvunxrjft/\\|()1{}[]?-_+~<>i!lI;:,\"^`'."

// reverse reverses the argument and returns the result
func reverse(s string) string {
	o := make([]rune, utf8.RuneCountInString(s))
	i := len(o)
	for _, c := range s {
		i--
		o[i] = c
	}
	return string(o)
}

// complement2 computes the 2-complement of a number
func complement2(x uint16) int16 {
	return int16(^x) + 1
}

// printImage2ASCII converts one gray-scale frame to ASCII characters. The
// intensity window is taken from the 2%..98% range of the histogram, MRI
// images tend to have a couple of very bright voxels that would otherwise
// flatten all the contrast.
func printImage2ASCII(img image.Image, w int, h int, photometricInterpretation string, pixelPaddingValue int) []byte {
	table := []byte(reverse(asciiTable))
	if photometricInterpretation == "MONOCHROME1" { // only valid if samples per pixel is 1
		table = []byte(asciiTable)
	}

	gray := func(x, y int) int64 {
		g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
		return int64(g.Y)
	}

	maxVal := gray(0, 0)
	minVal := maxVal
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			y := gray(j, i)
			if pixelPaddingValue != 0 && y == int64(pixelPaddingValue) {
				continue
			}
			if y > maxVal {
				maxVal = y
			}
			if y < minVal {
				minVal = y
			}
		}
	}

	var histogram [1024]int64
	bins := len(histogram)
	span := maxVal - minVal
	if span == 0 {
		span = 1
	}
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			y := gray(j, i)
			if pixelPaddingValue != 0 && y == int64(pixelPaddingValue) {
				continue
			}
			idx := int(math.Round(float64(y-minVal) / float64(span) * float64(bins-1)))
			idx = int(math.Min(float64(bins)-1, math.Max(0, float64(idx))))
			histogram[idx]++
		}
	}
	var sum int64
	for i := 0; i < bins; i++ {
		sum += histogram[i]
	}
	cumulativeAt := func(fraction float32) int64 {
		s := histogram[0]
		for i := 1; i < bins; i++ {
			if float32(s) >= float32(sum)*fraction {
				return minVal + int64(float32(i)/float32(bins)*float32(span))
			}
			s += histogram[i]
		}
		return maxVal
	}
	min2 := cumulativeAt(0.02)
	max98 := cumulativeAt(0.98)

	denom := max98 - min2
	if denom == 0 {
		denom = 1
	}
	buf := new(bytes.Buffer)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			y := gray(j, i)
			if pixelPaddingValue != 0 && y == int64(pixelPaddingValue) {
				_ = buf.WriteByte(' ')
				continue
			}
			pos := int((float32(y) - float32(min2)) * float32(len(table)-1) / float32(denom))
			pos = int(math.Min(float64(len(table)-1), math.Max(0, float64(pos))))
			_ = buf.WriteByte(table[pos])
		}
		_ = buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// shiftSignedFrame moves two-complement signed samples into the positive
// uint16 range so the histogram windowing can treat every image the same.
// Returns the shifted frame as an image plus the padding value mapped the
// same way.
func shiftSignedFrame(native frame.INativeFrame, pixelPaddingValue int) (image.Image, int) {
	data, ok := native.RawDataSlice().([]uint16)
	if !ok || native.SamplesPerPixel() != 1 {
		// signed MR data arrives as 16 bit single-sample frames, fall
		// back to the default rendering for anything else
		img, err := native.GetImage()
		if err != nil {
			return nil, pixelPaddingValue
		}
		return img, pixelPaddingValue
	}
	if len(data) == 0 {
		return nil, pixelPaddingValue
	}
	if pixelPaddingValue != 0 {
		// if we have such a value we cannot assume it will actually work,
		// GE is an example where they used other values
		pixelPaddingValue = int(32768) + int(complement2(data[0]))
	} else {
		pixelPaddingValue = int(32768)
	}
	cols := native.Cols()
	img := image.NewGray16(image.Rect(0, 0, cols, native.Rows()))
	for idx, value := range data {
		img.SetGray16(idx%cols, idx/cols, color.Gray16{Y: uint16(32768 + int(complement2(value)))})
	}
	return img, pixelPaddingValue
}

// showDataset renders the frames of one dataset. If viewer is nil the
// output goes to the terminal with cursor control codes, otherwise it is
// written into the viewer (the TUI passes its text view here).
func showDataset(dataset dicom.Dataset, counter int, path string, info string, viewer io.Writer) {
	pixelDataElement, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return
	}
	var pixelRepresentation int = 0
	pixelRepresentationVal, err := dataset.FindElementByTag(tag.PixelRepresentation)
	if err == nil {
		pixelRepresentation = dicom.MustGetInts(pixelRepresentationVal.Value)[0]
	}
	var photometricInterpretation string = "MONOCHROME2"
	photometricInterpretationVal, err := dataset.FindElementByTag(tag.PhotometricInterpretation)
	if err == nil {
		photometricInterpretation = dicom.MustGetStrings(photometricInterpretationVal.Value)[0]
	}
	// This value seems to be defined in the original data format (before complement-2)
	var pixelPaddingValue int = 0
	pixelPaddingValueVal, err := dataset.FindElementByTag(tag.PixelPaddingValue)
	if err == nil {
		pixelPaddingValue = dicom.MustGetInts(pixelPaddingValueVal.Value)[0]
	}

	langFmt := message.NewPrinter(language.English)

	pixelDataInfo := dicom.MustGetPixelDataInfo(pixelDataElement.Value)
	for _, fr := range pixelDataInfo.Frames {
		if viewer == nil {
			fmt.Printf("\033[0;0f") // go to top of the screen
		}

		var img image.Image
		if pixelRepresentation == 1 {
			native_img, err := fr.GetNativeFrame()
			if err != nil {
				continue
			}
			img, pixelPaddingValue = shiftSignedFrame(native_img, pixelPaddingValue)
			if img == nil {
				continue
			}
		} else {
			img, err = fr.GetImage()
			if err != nil {
				continue
			}
		}

		origbounds := img.Bounds()
		origWidth, origHeight := origbounds.Max.X, origbounds.Max.Y
		// a character cell is roughly twice as tall as wide
		width := 98
		height := int(math.Round(float64(width) / (80.0 / 30.0)))
		newImage := image.NewGray16(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(newImage, newImage.Bounds(), img, origbounds, draw.Over, nil)

		p := printImage2ASCII(newImage, width, height, photometricInterpretation, pixelPaddingValue)
		if viewer != nil {
			fmt.Fprintf(viewer, "%s", string(p))
			return // the TUI animates frame by frame, one frame per call
		}
		fmt.Printf("%s", string(p))
		langFmt.Printf("\033[2K[%d] %s (%dx%d)\n", counter+1, path, origWidth, origHeight)
		if len(info) > 0 {
			langFmt.Printf("\033[2K%s\n", info)
		}
	}
}

// clearPreview wipes the terminal before a preview animation starts.
func clearPreview() {
	fmt.Fprintf(os.Stdout, "\033[2J\n")
}

// previewSeries walks the folder of one series and renders every image
// file on the terminal, image number and sequence type underneath.
func previewSeries(config Config, SeriesInstanceUID string) {
	info, err := findScanInfo(config.Data.DataInfo, SeriesInstanceUID)
	if err != nil {
		exitGracefully(err)
	}
	if _, err := os.Stat(info.Path); os.IsNotExist(err) {
		exitGracefully(fmt.Errorf("the path %s could not be found. Maybe a drive was disconnected?", info.Path))
	}
	sequenceType := info.SequenceType
	if sequenceType == "" {
		sequenceType = "unclassified"
	}
	clearPreview()
	counter := 0
	filepath.Walk(info.Path, func(path string, fileInfo os.FileInfo, err error) error {
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
			return nil
		}
		showDataset(dataset, counter, path, fmt.Sprintf("series %03d \"%s\" %s", info.SeriesNumber, info.SeriesDescription, sequenceType), nil)
		counter = counter + 1
		return nil
	})
	if counter == 0 {
		fmt.Printf("no image files found for series %s under %s\n", SeriesInstanceUID, info.Path)
	}
}
