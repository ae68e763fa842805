package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
	"github.com/kwv/tmifield/series"
)

type fakeSeriesProvider struct {
	s   *series.Series
	err error
}

func (f fakeSeriesProvider) Open(context.Context, string) (*series.Series, error) {
	return f.s, f.err
}

type fakeStructures map[string]*series.Mask3D

func (f fakeStructures) Mask(_, roi string, shape series.Shape) (*series.Mask3D, bool, error) {
	m, ok := f[roi]
	if !ok {
		return series.NewMask3D(shape), false, nil
	}
	return m, true, nil
}

type fakeOracle struct {
	outputs []float64
	err     error
	inputs  []Tensor
}

func (f *fakeOracle) Predict(_ context.Context, _ string, in Tensor) ([]float64, error) {
	f.inputs = append(f.inputs, in)
	return f.outputs, f.err
}

func (f *fakeOracle) Available(context.Context, string) error { return f.err }

func bodyOutputs() []float64 {
	return []float64{
		0.9, 0.7, 0.3, 0.1,
		-0.01, 0.015, -0.015, 0.01,
		-0.01, -0.012, 0.01,
		-0.01, -0.02, -0.01, -0.015,
		-0.01, 0.02, -0.012,
		0.05, 0.06, 0.1,
		-0.05, 0.05, -0.06, 0.06,
	}
}

// pipelineSeries is 8 (AP) x 64 (lateral) x 40 slices of uniform HU with the
// PTV covering lateral columns 10-53.
func pipelineSeries() (*series.Series, *series.Mask3D) {
	shape := series.Shape{Rows: 8, Cols: 64, Slices: 40}
	vol := series.NewVolume(shape)
	ptv := series.NewMask3D(shape)
	for r := range shape.Rows {
		for c := range shape.Cols {
			for k := range shape.Slices {
				vol.Set(r, c, k, 40)
				if r >= 2 && r < 6 && c >= 10 && c < 54 {
					ptv.Set(r, c, k, true)
				}
			}
		}
	}
	s := &series.Series{PatientID: "P001", Volume: vol, PixelSpacing: 1, SliceSpacing: 2, Affine: field.IdentityAffine()}
	return s, ptv
}

func testPipeline(oracle Oracle, log logger.ILogger) *Pipeline {
	cfg := field.DefaultConfig()
	cfg.Search.Iterations = 50
	cfg.Search.Seed = 3
	s, ptv := pipelineSeries()
	opt := field.NewOptimizer(cfg, log, nil)
	return New(cfg, fakeSeriesProvider{s: s}, fakeStructures{"PTV_Total": ptv}, oracle, opt, log)
}

func TestPredict(t *testing.T) {
	log := &logger.CaptureLogger{}
	oracle := &fakeOracle{outputs: bodyOutputs()}
	p := testPipeline(oracle, log)

	pred, err := p.Predict(context.Background(), Request{
		ModelName: "body_cnn",
		DicomPath: "/data/P001",
		PTVName:   "PTV_Total",
		OARNames:  []string{"Lungs"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, pred.RequestID)
	assert.Equal(t, "P001", pred.PatientID)
	assert.Equal(t, field.ModelBody, pred.Run.Kind)
	assert.Equal(t, field.Collimator90, pred.Run.Convention)

	require.Len(t, oracle.inputs, 1)
	assert.Equal(t, []int{1, 3, 512, 512}, oracle.inputs[0].Shape)

	// background is symmetric around the lateral centre
	assert.InDelta(t, 31.5, pred.Pixel.IsoX(field.PelvisCranial), 1e-9)
	for _, f := range []field.FieldIndex{field.ArmLeft, field.ArmRight} {
		assert.True(t, pred.Pixel.Isocenters[f].IsZero())
		assert.True(t, pred.Patient.JawsX[f].IsZero())
	}
	// identity affine
	for i := range field.NumFields {
		for k := range 3 {
			assert.InDelta(t, pred.Pixel.Isocenters[i][k], pred.Patient.Isocenters[i][k], 1e-9)
		}
		for side := range 2 {
			assert.InDelta(t, pred.Pixel.JawsX[i][side], pred.Patient.JawsX[i][side], 1e-9)
			assert.InDelta(t, pred.Pixel.JawsY[i][side], pred.Patient.JawsY[i][side], 1e-9)
		}
	}

	assert.True(t, log.Contains(logger.LogWarn, "No contours for Lungs ROI"))
	assert.True(t, log.Contains(logger.LogWarn, "does not match expected"), "64-row image is not 512 wide")
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		oracle  *fakeOracle
		wantErr error
	}{
		{
			name:    "unknown model",
			req:     Request{ModelName: "legs_cnn", DicomPath: "/d", PTVName: "PTV_Total"},
			oracle:  &fakeOracle{outputs: bodyOutputs()},
			wantErr: ErrModelUnavailable,
		},
		{
			name:    "model not served",
			req:     Request{ModelName: "body_cnn", DicomPath: "/d", PTVName: "PTV_Total"},
			oracle:  &fakeOracle{err: ErrModelUnavailable},
			wantErr: ErrModelUnavailable,
		},
		{
			name:    "arms layout for body model",
			req:     Request{ModelName: "body_cnn", DicomPath: "/d", PTVName: "PTV_Total"},
			oracle:  &fakeOracle{outputs: make([]float64, field.ArmsOutputLen)},
			wantErr: field.ErrUnexpectedOutputLength,
		},
		{
			name:    "truncated output",
			req:     Request{ModelName: "body_cnn", DicomPath: "/d", PTVName: "PTV_Total"},
			oracle:  &fakeOracle{outputs: make([]float64, 19)},
			wantErr: field.ErrUnexpectedOutputLength,
		},
		{
			name:    "missing PTV",
			req:     Request{ModelName: "body_cnn", DicomPath: "/d", PTVName: "PTV_Missing"},
			oracle:  &fakeOracle{outputs: bodyOutputs()},
			wantErr: ErrEmptyTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPipeline(tt.oracle, nil)
			_, err := p.Predict(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPredict_InvalidRequest(t *testing.T) {
	p := testPipeline(&fakeOracle{}, nil)
	_, err := p.Predict(context.Background(), Request{ModelName: "body_cnn"})
	assert.Error(t, err)
}

func TestPredict_SeriesError(t *testing.T) {
	cfg := field.DefaultConfig()
	boom := errors.New("unreadable")
	p := New(cfg, fakeSeriesProvider{err: boom}, fakeStructures{}, &fakeOracle{}, field.NewOptimizer(cfg, nil, nil), nil)

	_, err := p.Predict(context.Background(), Request{ModelName: "arms_cnn", DicomPath: "/d", PTVName: "PTV"})
	assert.ErrorIs(t, err, boom)
}
