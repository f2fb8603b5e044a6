// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

// GeolocationState tracks the last known geolocation coordinates and accuracy values.
// It provides functionality to detect changes in geolocation data.
type GeolocationState struct {
	last     Coordinate
	haveLast bool
}

// HasChanged reports whether the coordinate differs significantly from the stored one. An empty
// state always reports a change.
func (s *GeolocationState) HasChanged(c Coordinate) bool {
	if !s.haveLast {
		return true
	}
	if c == s.last {
		return false
	}
	return c.PosHasSignificantChange(s.last)
}

// Update updates the stored geolocation state with the provided coordinate.
func (s *GeolocationState) Update(new Coordinate) {
	s.last = new
	s.haveLast = true
}
