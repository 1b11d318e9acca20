// Package density converts user dimensions to metres and computes detections per area.
//
// A single policy applies to images and videos: when the area is not strictly
// positive the density is 0, never a division error.
package density

import (
	"fmt"
	"math"
	"strings"

	"mosquitoserver/internal/apperr"
)

type Unit string

const (
	Meters      Unit = "m"
	Centimeters Unit = "cm"
	Millimeters Unit = "mm"
	// Pixels is reported when an image falls back to its own pixel dimensions.
	Pixels Unit = "px"
)

// ParseUnit accepts short and long unit names; an empty string means metres.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "m", "meter", "meters", "metre", "metres":
		return Meters, nil
	case "cm", "centimeter", "centimeters", "centimetre", "centimetres":
		return Centimeters, nil
	case "mm", "millimeter", "millimeters", "millimetre", "millimetres":
		return Millimeters, nil
	}
	return "", fmt.Errorf("%w: %q", apperr.ErrInvalidUnit, s)
}

// Factor is the number of metres in one unit.
func (u Unit) Factor() float64 {
	switch u {
	case Centimeters:
		return 0.01
	case Millimeters:
		return 0.001
	default:
		return 1
	}
}

// ToMeters converts a length in u to metres.
func (u Unit) ToMeters(v float64) float64 {
	return v * u.Factor()
}

// Name is the long display name, used in "per sq. <name>" labels.
func (u Unit) Name() string {
	switch u {
	case Centimeters:
		return "centimeters"
	case Millimeters:
		return "millimeters"
	case Pixels:
		return "pixels"
	default:
		return "meters"
	}
}

// Area is a rectangular surface with sides in metres (or pixels for the image fallback).
type Area struct {
	Length float64
	Width  float64
}

// NewArea validates dimensions given in unit u and converts them to metres.
func NewArea(length, width float64, u Unit) (Area, error) {
	if err := Validate(length, width); err != nil {
		return Area{}, err
	}
	return Area{Length: u.ToMeters(length), Width: u.ToMeters(width)}, nil
}

// Value returns length × width.
func (a Area) Value() float64 {
	return a.Length * a.Width
}

// Valid reports whether a density can be computed for a.
func (a Area) Valid() bool {
	return a.Length > 0 && a.Width > 0
}

// Compute returns count / area, or 0 when the area is not strictly positive.
func Compute(count int, a Area) float64 {
	if !a.Valid() {
		return 0
	}
	return float64(count) / a.Value()
}

// PerUnit rescales a per-square-metre density to per-square-u.
func PerUnit(perSquareMeter float64, u Unit) float64 {
	if u == Pixels {
		return perSquareMeter
	}
	f := u.Factor()
	return perSquareMeter * f * f
}

// Validate rejects negative, NaN and infinite dimensions. Zero is allowed and
// yields density 0.
func Validate(length, width float64) error {
	for _, v := range []float64{length, width} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: dimension is not a finite number", apperr.ErrInvalidArea)
		}
		if v < 0 {
			return fmt.Errorf("%w: dimension %g is negative", apperr.ErrInvalidArea, v)
		}
	}
	return nil
}
