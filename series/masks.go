package series

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultStructureSubdir is where masks live relative to the DICOM
// directory when no structure root is configured.
const DefaultStructureSubdir = "structures"

// DirMaskStore reads ROI masks rasterized ahead of time, one PNG per slice:
// <root>/<roi>/<slice>.png, slice numbered from 0 in sorted series order.
// Non-zero pixels are inside the ROI; missing slice files are empty.
type DirMaskStore struct {
	// Root overrides <dicomPath>/structures.
	Root string
}

// SliceFileName is the mask file name of slice k.
func SliceFileName(k int) string {
	return fmt.Sprintf("%03d.png", k)
}

func (s DirMaskStore) root(dicomPath string) string {
	if s.Root != "" {
		return s.Root
	}
	return filepath.Join(dicomPath, DefaultStructureSubdir)
}

// Mask loads the named ROI. The boolean is false when the ROI has no
// directory; the returned mask is then empty.
func (s DirMaskStore) Mask(dicomPath, roi string, shape Shape) (*Mask3D, bool, error) {
	mask := NewMask3D(shape)
	dir := filepath.Join(s.root(dicomPath), roi)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return mask, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "ROI %s", roi)
	}
	if !info.IsDir() {
		return nil, false, errors.Errorf("ROI %s: %s is not a directory", roi, dir)
	}

	for k := range shape.Slices {
		path := filepath.Join(dir, SliceFileName(k))
		if err := readSliceMask(path, mask, k); err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				continue
			}
			return nil, false, errors.Wrapf(err, "ROI %s", roi)
		}
	}
	return mask, true, nil
}

func readSliceMask(path string, mask *Mask3D, k int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	b := img.Bounds()
	if b.Dy() != mask.Rows || b.Dx() != mask.Cols {
		return errors.Errorf("%s is %dx%d, expected %dx%d", path, b.Dy(), b.Dx(), mask.Rows, mask.Cols)
	}
	for r := range mask.Rows {
		for c := range mask.Cols {
			if color.GrayModel.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.Gray).Y != 0 {
				mask.Set(r, c, k, true)
			}
		}
	}
	return nil
}
