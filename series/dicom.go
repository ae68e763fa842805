package series

import (
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
)

// ErrNoSlices is returned when a directory holds no usable CT slice.
var ErrNoSlices = errors.New("no CT slices found")

// Slice is one decoded CT image with its position in patient space.
type Slice struct {
	Position     field.Vec3
	RowDir       field.Vec3
	ColDir       field.Vec3
	PixelSpacing [2]float64
	Rows, Cols   int
	HU           []float64 // row-major, Rows*Cols
}

// DicomProvider reads CT series from directories of DICOM files.
type DicomProvider struct {
	Log logger.ILogger
}

func NewDicomProvider(log logger.ILogger) *DicomProvider {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &DicomProvider{Log: log}
}

// Open parses every CT slice in dir and assembles the series. Files that are
// not CT images (RT structure sets, plans, stray files) are skipped.
func (p *DicomProvider) Open(ctx context.Context, dir string) (*Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading series directory %s", dir)
	}

	var slices []Slice
	var patientID string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || strings.HasPrefix(strings.ToUpper(e.Name()), "RTSTRUCT") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ds, err := dicom.ParseFile(path, nil)
		if err != nil {
			p.Log.Debugf("Skipping %s: %v", path, err)
			continue
		}
		if modality, _ := stringValue(ds, tag.Modality); modality != "" && modality != "CT" {
			p.Log.Debugf("Skipping %s: modality %s", path, modality)
			continue
		}
		s, err := decodeSlice(ds)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", path)
		}
		if patientID == "" {
			patientID, _ = stringValue(ds, tag.PatientID)
		}
		slices = append(slices, s)
	}

	series, err := BuildSeries(slices)
	if err != nil {
		return nil, errors.Wrapf(err, "series %s", dir)
	}
	series.PatientID = patientID
	p.Log.Infof("Loaded %d CT slices (%dx%d) from %s", series.Volume.Slices, series.Volume.Rows, series.Volume.Cols, dir)
	return series, nil
}

// BuildSeries sorts slices along the slice normal and derives the volume,
// the spacings and the pixel-to-patient affine.
func BuildSeries(slices []Slice) (*Series, error) {
	if len(slices) == 0 {
		return nil, ErrNoSlices
	}
	first := slices[0]
	normal := field.Cross(first.RowDir, first.ColDir)

	sorted := append([]Slice(nil), slices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dot(sorted[i].Position, normal) < dot(sorted[j].Position, normal)
	})

	shape := Shape{Rows: first.Rows, Cols: first.Cols, Slices: len(sorted)}
	vol := NewVolume(shape)
	for k, s := range sorted {
		if s.Rows != shape.Rows || s.Cols != shape.Cols {
			return nil, errors.Errorf("slice %d is %dx%d, expected %dx%d", k, s.Rows, s.Cols, shape.Rows, shape.Cols)
		}
		copy(vol.HU[k*shape.Rows*shape.Cols:], s.HU)
	}

	sliceSpacing := 1.0
	if n := len(sorted); n > 1 {
		sliceSpacing = distance(sorted[n-1].Position, sorted[0].Position) / float64(n-1)
	}
	if sliceSpacing == 0 {
		return nil, errors.New("all slices share one position")
	}

	origin := sorted[0].Position
	return &Series{
		Volume:       vol,
		PixelSpacing: first.PixelSpacing[0],
		SliceSpacing: sliceSpacing,
		Affine: field.SeriesAffine(first.RowDir, first.ColDir, normal, origin,
			first.PixelSpacing[0], first.PixelSpacing[1], sliceSpacing),
	}, nil
}

func decodeSlice(ds dicom.Dataset) (Slice, error) {
	var s Slice

	ipp, err := floatValues(ds, tag.ImagePositionPatient, 3)
	if err != nil {
		return s, err
	}
	iop, err := floatValues(ds, tag.ImageOrientationPatient, 6)
	if err != nil {
		return s, err
	}
	spacing, err := floatValues(ds, tag.PixelSpacing, 2)
	if err != nil {
		return s, err
	}
	copy(s.Position[:], ipp)
	copy(s.RowDir[:], iop[:3])
	copy(s.ColDir[:], iop[3:])
	s.PixelSpacing = [2]float64{spacing[0], spacing[1]}

	slope, intercept := 1.0, 0.0
	if v, err := floatValues(ds, tag.RescaleSlope, 1); err == nil {
		slope = v[0]
	}
	if v, err := floatValues(ds, tag.RescaleIntercept, 1); err == nil {
		intercept = v[0]
	}
	signed := false
	if el, err := ds.FindElementByTag(tag.PixelRepresentation); err == nil {
		if v := el.Value.GetValue(); v != nil {
			if ints, ok := v.([]int); ok && len(ints) > 0 {
				signed = ints[0] == 1
			}
		}
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return s, errors.Wrap(err, "pixel data")
	}
	info := dicom.MustGetPixelDataInfo(el.Value)
	if len(info.Frames) == 0 {
		return s, errors.New("pixel data holds no frame")
	}
	img, err := info.Frames[0].GetImage()
	if err != nil {
		return s, errors.Wrap(err, "decoding frame")
	}

	b := img.Bounds()
	s.Rows, s.Cols = b.Dy(), b.Dx()
	s.HU = make([]float64, s.Rows*s.Cols)
	for r := range s.Rows {
		for c := range s.Cols {
			raw := rawValue(img, b.Min.X+c, b.Min.Y+r, signed)
			s.HU[r*s.Cols+c] = raw*slope + intercept
		}
	}
	return s, nil
}

func rawValue(img image.Image, x, y int, signed bool) float64 {
	v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
	if signed {
		return float64(int16(v))
	}
	return float64(v)
}

func stringValue(ds dicom.Dataset, t tag.Tag) (string, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return "", err
	}
	strs, ok := el.Value.GetValue().([]string)
	if !ok || len(strs) == 0 {
		return "", errors.Errorf("tag %v holds no string", t)
	}
	return strings.TrimSpace(strs[0]), nil
}

// floatValues reads a decimal-string element with at least n values.
func floatValues(ds dicom.Dataset, t tag.Tag, n int) ([]float64, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, errors.Wrapf(err, "tag %v", t)
	}
	strs, ok := el.Value.GetValue().([]string)
	if !ok || len(strs) < n {
		return nil, errors.Errorf("tag %v: expected %d values", t, n)
	}
	out := make([]float64, n)
	for i := range n {
		f, err := strconv.ParseFloat(strings.TrimSpace(strs[i]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "tag %v", t)
		}
		out[i] = f
	}
	return out, nil
}

func dot(a, b field.Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func distance(a, b field.Vec3) float64 {
	d := field.Vec3{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
	return math.Sqrt(dot(d, d))
}
