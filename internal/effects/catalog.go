// Package effects holds the catalog of visual effects shared by the local
// engine and the remote worker. Filter expressions are passed to the encoder
// verbatim.
package effects

import (
	"errors"
	"fmt"
)

// Version is bumped whenever a filter expression changes so that results
// produced by different builds can be told apart.
const Version = 1

type ID string

const (
	None      ID = "none"
	Sepia     ID = "sepia"
	Grayscale ID = "grayscale"
	Vignette  ID = "vignette"
	Blur      ID = "blur"
)

var ErrUnknownEffect = errors.New("unknown effect")

type Effect struct {
	ID     ID     `json:"id"`
	Label  string `json:"label"`
	Filter string `json:"filter"`
}

// IsNone reports whether the effect is the pass-through entry.
func (e Effect) IsNone() bool {
	return e.Filter == ""
}

var catalog = []Effect{
	{ID: None, Label: "Original", Filter: ""},
	{ID: Sepia, Label: "Sepia", Filter: "colorchannelmixer=.393:.769:.189:0:.349:.686:.168:0:.272:.534:.131:0"},
	{ID: Grayscale, Label: "Grayscale", Filter: "format=gray"},
	{ID: Vignette, Label: "Vignette", Filter: "vignette=PI/4"},
	{ID: Blur, Label: "Blur", Filter: "gblur=sigma=2"},
}

// Lookup resolves an effect identifier.
func Lookup(id string) (Effect, error) {
	for _, e := range catalog {
		if string(e.ID) == id {
			return e, nil
		}
	}
	return Effect{}, fmt.Errorf("%w: %q", ErrUnknownEffect, id)
}

// All returns the catalog in display order.
func All() []Effect {
	out := make([]Effect, len(catalog))
	copy(out, catalog)
	return out
}
