// Package pipeline turns a prediction request into a patient-space field
// geometry: it projects the CT series, asks the regression model for a
// first guess, decodes it and runs the local optimization.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
	"github.com/kwv/tmifield/series"
)

// Request is the body of a prediction request.
type Request struct {
	ModelName string   `json:"model_name"`
	DicomPath string   `json:"dicom_path"`
	PTVName   string   `json:"ptv_name"`
	OARNames  []string `json:"oars_name"`
}

func (r Request) Validate() error {
	if r.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if r.DicomPath == "" {
		return fmt.Errorf("dicom_path is required")
	}
	if r.PTVName == "" {
		return fmt.Errorf("ptv_name is required")
	}
	return nil
}

// SeriesProvider opens the CT series of a request.
type SeriesProvider interface {
	Open(ctx context.Context, dicomPath string) (*series.Series, error)
}

// StructureStore loads ROI masks. The boolean is false when the ROI does
// not exist; the mask is then empty.
type StructureStore interface {
	Mask(dicomPath, roi string, shape series.Shape) (*series.Mask3D, bool, error)
}

// Prediction is the outcome of one request.
type Prediction struct {
	RequestID string
	PatientID string
	Run       field.RunInfo
	Image     *field.Image
	Result    field.Result
	// Pixel is the optimized geometry in pixel space, Patient the same in mm.
	Pixel   field.FieldGeometry
	Patient field.FieldGeometry
}

// Pipeline wires the collaborators of a prediction.
type Pipeline struct {
	cfg        *field.Config
	series     SeriesProvider
	structures StructureStore
	oracle     Oracle
	optimizer  *field.Optimizer
	log        logger.ILogger
}

func New(cfg *field.Config, sp SeriesProvider, ss StructureStore, oracle Oracle, opt *field.Optimizer, log logger.ILogger) *Pipeline {
	if log == nil {
		log = logger.NullLogger{}
	}
	return &Pipeline{
		cfg:        cfg,
		series:     sp,
		structures: ss,
		oracle:     oracle,
		optimizer:  opt,
		log:        log,
	}
}

// Predict runs the full chain for req.
func (p *Pipeline) Predict(ctx context.Context, req Request) (*Prediction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind, ok := p.cfg.ModelKindFor(req.ModelName)
	if !ok {
		return nil, fmt.Errorf("model %q: %w", req.ModelName, ErrModelUnavailable)
	}

	pred := &Prediction{RequestID: uuid.New().String()}
	pred.Run = field.RunInfo{
		RequestID:  pred.RequestID,
		Model:      req.ModelName,
		Kind:       kind,
		Convention: p.cfg.Collimator(),
	}
	p.log.Infof("[%s] Predicting %s for %s (PTV %s)", pred.RequestID, req.ModelName, req.DicomPath, req.PTVName)

	s, err := p.series.Open(ctx, req.DicomPath)
	if err != nil {
		return nil, fmt.Errorf("opening series: %w", err)
	}
	pred.PatientID = s.PatientID

	img, err := p.preprocess(req, s)
	if err != nil {
		return nil, err
	}
	pred.Image = img

	y, err := p.oracle.Predict(ctx, req.ModelName, ModelInput(img, img.WidthResize))
	if err != nil {
		return nil, err
	}

	out, g, err := field.Decode(y, FrameFor(img))
	if err != nil {
		return nil, fmt.Errorf("decoding %s output: %w", req.ModelName, err)
	}
	if out.Kind != kind {
		return nil, fmt.Errorf("model %s returned a %s layout, expected %s: %w",
			req.ModelName, out.Kind, kind, field.ErrUnexpectedOutputLength)
	}

	res, err := p.optimizer.Optimize(ctx, pred.Run, img, &g)
	if err != nil {
		return nil, err
	}
	pred.Result = res
	pred.Pixel = g
	pred.Patient = field.PixelToPatient(s, g)
	return pred, nil
}

func (p *Pipeline) preprocess(req Request, s *series.Series) (*field.Image, error) {
	shape := s.Shape()

	ptv, found, err := p.structures.Mask(req.DicomPath, req.PTVName, shape)
	if err != nil {
		return nil, fmt.Errorf("loading PTV %s: %w", req.PTVName, err)
	}
	if !found {
		p.log.Warnf("No contours for %s ROI. Assign mask of zeros.", req.PTVName)
	}

	oars := make([]ROIMask, 0, len(req.OARNames))
	for _, name := range req.OARNames {
		m, found, err := p.structures.Mask(req.DicomPath, name, shape)
		if err != nil {
			return nil, fmt.Errorf("loading OAR %s: %w", name, err)
		}
		if !found {
			p.log.Warnf("No contours for %s ROI. Assign mask of zeros.", name)
		}
		oars = append(oars, ROIMask{Name: name, Mask: m})
	}

	img, err := ProjectCoronal(s, ptv, oars, p.cfg.WidthResize)
	if err != nil {
		return nil, fmt.Errorf("preprocessing %s: %w", req.PTVName, err)
	}
	return img, nil
}
