// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package heading

import (
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// DeclinationModel returns the magnetic declination in degrees at a position. Positive values
// mean magnetic north lies east of true north.
type DeclinationModel interface {
	Declination(lat, lon, alt float64, at time.Time) float64
}

// FixedDeclination is a DeclinationModel that returns the same value everywhere.
type FixedDeclination float64

// Declination implements DeclinationModel.
func (d FixedDeclination) Declination(float64, float64, float64, time.Time) float64 {
	return float64(d)
}

// Validity window of the bundled WMM2020 coefficients.
var (
	wmmValidFrom  = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	wmmValidUntil = time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// WMMModel computes the declination from the World Magnetic Model. Times outside the
// coefficient window are clamped to its nearest edge.
type WMMModel struct{}

// Declination implements DeclinationModel. It returns 0 if the model cannot be evaluated.
func (WMMModel) Declination(lat, lon, alt float64, at time.Time) float64 {
	switch {
	case at.Before(wmmValidFrom):
		at = wmmValidFrom
	case at.After(wmmValidUntil):
		at = wmmValidUntil
	}
	field, err := wmm.CalculateWMMMagneticField(egm96.NewLocationGeodetic(lat, lon, alt), at)
	if err != nil {
		return 0
	}
	return field.D()
}
