// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package geocode resolves free-form place names into coordinates.
package geocode

import (
	"context"

	"github.com/wneessen/geowatch/internal/geobus"
)

// Place is the result of a forward lookup.
type Place struct {
	geobus.Coordinate
	DisplayName string
	Found       bool
	CacheHit    bool
}

type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) (Place, error)
}
