package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
)

// DebugWriter saves debug renderings of every run under Dir:
//
//	input_img/input_img_<id>.png            model input channels
//	local_opt/local_opt_<id>.png            search space and landmarks
//	field_geometry/field_geometry_<id>.svg  adjusted field footprints
type DebugWriter struct {
	Dir string
	Log logger.ILogger
}

func NewDebugWriter(dir string, log logger.ILogger) *DebugWriter {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &DebugWriter{Dir: dir, Log: log}
}

func (d *DebugWriter) OnSearchComputed(ev field.SearchEvent) {
	id := ev.Run.RequestID
	err := d.write("input_img", fmt.Sprintf("input_img_%s.png", id), func(w io.Writer) error {
		return EncodePNG(w, RenderInput(ev.Image))
	})
	if err != nil {
		d.Log.Warnf("[%s] saving input image: %v", id, err)
	}

	err = d.write("local_opt", fmt.Sprintf("local_opt_%s.png", id), func(w io.Writer) error {
		return EncodePNG(w, RenderLocalOpt(ev.Image, ev.Space, ev.Landmarks))
	})
	if err != nil {
		d.Log.Warnf("[%s] saving local optimization image: %v", id, err)
	}
}

func (d *DebugWriter) OnGeometryAdjusted(ev field.AdjustEvent) {
	id := ev.Run.RequestID
	err := d.write("field_geometry", fmt.Sprintf("field_geometry_%s.svg", id), func(w io.Writer) error {
		return NewGeometryRenderer(ev.Image, ev.After).RenderToSVG(w)
	})
	if err != nil {
		d.Log.Warnf("[%s] saving field geometry: %v", id, err)
	}
}

// write creates Dir/sub/name and hands it to render.
func (d *DebugWriter) write(sub, name string, render func(io.Writer) error) error {
	dir := filepath.Join(d.Dir, sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	d.Log.Debugf("Saved %s", path)
	return nil
}
