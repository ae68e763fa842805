package field

import "fmt"

// SeriesGeometry supplies the pixel-to-patient affine of an image series.
type SeriesGeometry interface {
	PixelToPatientAffine() Affine
}

// TransformGeometry maps a geometry through m.
//
// Isocenters are transformed directly. Jaw apertures are not points, so each
// one is turned into a key point on its own axis (X jaws on axis 0 as
// iso_x - jaw, Y jaws on axis 2 as iso_z + jaw), transformed with the other two
// coordinates taken from the isocenter, and converted back into an aperture
// against the transformed isocenter. Absent fields and zero apertures stay zero.
func TransformGeometry(m Affine, g FieldGeometry) FieldGeometry {
	var out FieldGeometry

	for i, iso := range g.Isocenters {
		if iso.IsZero() {
			continue
		}
		isoT := m.Apply(iso)
		out.Isocenters[i] = isoT

		if !g.JawsX[i].IsZero() {
			for side := range 2 {
				kp := Vec3{iso[AxisX] - g.JawsX[i][side], iso[AxisY], iso[AxisZ]}
				kpT := m.Apply(kp)
				out.JawsX[i][side] = isoT[AxisX] - kpT[AxisX]
			}
		}
		if !g.JawsY[i].IsZero() {
			for side := range 2 {
				kp := Vec3{iso[AxisX], iso[AxisY], iso[AxisZ] + g.JawsY[i][side]}
				kpT := m.Apply(kp)
				out.JawsY[i][side] = kpT[AxisZ] - isoT[AxisZ]
			}
		}
	}
	return out
}

// PixelToPatient converts a pixel-space geometry into patient coordinates.
func PixelToPatient(series SeriesGeometry, g FieldGeometry) FieldGeometry {
	return TransformGeometry(series.PixelToPatientAffine(), g)
}

// PatientToPixel converts a patient-space geometry into pixel coordinates.
func PatientToPixel(series SeriesGeometry, g FieldGeometry) (FieldGeometry, error) {
	inv, err := series.PixelToPatientAffine().Inverse()
	if err != nil {
		return FieldGeometry{}, fmt.Errorf("patient to pixel: %w", err)
	}
	return TransformGeometry(inv, g), nil
}
