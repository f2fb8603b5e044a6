// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package heading

import "math"

const (
	standardGravity = 9.80665

	// freeFallGravitySquared is the squared acceleration below which the device is considered
	// to be in free fall.
	freeFallGravitySquared = 0.01 * standardGravity * standardGravity

	// minFieldNorm is the smallest horizontal field strength that still yields a usable
	// east vector. Below it the device is close to the magnetic poles or the reading is noise.
	minFieldNorm = 0.1
)

// rotationMatrix computes the 3x3 row-major rotation matrix that transforms device coordinates
// to world coordinates (east, north, up) from a gravity and a geomagnetic vector. It reports
// false when the vectors do not allow a stable result.
func rotationMatrix(gravity, geomagnetic [3]float64) ([9]float64, bool) {
	ax, ay, az := gravity[0], gravity[1], gravity[2]
	normsqA := ax*ax + ay*ay + az*az
	if normsqA < freeFallGravitySquared {
		return [9]float64{}, false
	}

	ex, ey, ez := geomagnetic[0], geomagnetic[1], geomagnetic[2]
	hx := ey*az - ez*ay
	hy := ez*ax - ex*az
	hz := ex*ay - ey*ax
	normH := math.Sqrt(hx*hx + hy*hy + hz*hz)
	if normH < minFieldNorm {
		return [9]float64{}, false
	}

	invH := 1.0 / normH
	hx, hy, hz = hx*invH, hy*invH, hz*invH
	invA := 1.0 / math.Sqrt(normsqA)
	ax, ay, az = ax*invA, ay*invA, az*invA

	mx := ay*hz - az*hy
	my := az*hx - ax*hz
	mz := ax*hy - ay*hx

	return [9]float64{
		hx, hy, hz,
		mx, my, mz,
		ax, ay, az,
	}, true
}

// azimuth returns the rotation around the up axis in radians, in the range [-pi, pi].
func azimuth(r [9]float64) float64 {
	return math.Atan2(r[1], r[4])
}

// magneticHeading converts an azimuth in radians to degrees in [0, 360).
func magneticHeading(azimuthRad float64) float64 {
	return normalizeDegrees(azimuthRad * 180 / math.Pi)
}

// normalizeDegrees maps any angle in degrees into [0, 360).
func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
