// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package effect contains the frame effects applied before encoding.
package effect

import (
	"errors"
	"fmt"
	"strings"

	"mp4rec/pkg/packager"
)

// Kind selects an effect.
type Kind uint8

// Effects.
const (
	// Passthrough returns the input unchanged.
	Passthrough Kind = iota

	// GrayCycle shifts the channels of the previous output one step,
	// R to G and G to B, and stores the average of the input in R.
	GrayCycle

	// ColorCycle updates one channel per frame from the input,
	// cycling R, G, B.
	ColorCycle
)

func (k Kind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case GrayCycle:
		return "grayCycle"
	case ColorCycle:
		return "colorCycle"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Errors.
var (
	ErrUnknownKind       = errors.New("unknown effect")
	ErrUnsupportedFormat = errors.New("effect requires rgb24 frames")
)

// ParseKind parses a config value.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "passthrough", "normal", "none":
		return Passthrough, nil
	case "graycycle", "gray":
		return GrayCycle, nil
	case "colorcycle", "color":
		return ColorCycle, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Effect is a stateful frame effect. The cycling effects keep the
// previous output and blend every input into it.
type Effect struct {
	kind Kind

	// Output buffer of the cycling effects.
	width   int
	height  int
	buf     []byte
	channel int

	// Last input of the passthrough effect.
	last packager.Frame
}

// New returns an effect with a black output buffer.
func New(kind Kind) *Effect {
	return &Effect{kind: kind}
}

// Kind returns the effect kind.
func (e *Effect) Kind() Kind {
	return e.kind
}

// Switch returns a new effect of the given kind. A cycling effect
// is primed with the output of the current cycling effect, switching
// from passthrough starts from black.
func (e *Effect) Switch(kind Kind) *Effect {
	next := New(kind)
	if kind != Passthrough && e.kind != Passthrough && e.buf != nil {
		next.width = e.width
		next.height = e.height
		next.buf = append([]byte(nil), e.buf...)
	}
	return next
}

// Ingest feeds a frame to the effect. The frame is not retained
// by the cycling effects.
func (e *Effect) Ingest(frame packager.Frame) error {
	if e.kind == Passthrough {
		e.last = frame
		return nil
	}

	if frame.Format != packager.RGB24 {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, frame.Format)
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	// A new size restarts from black.
	if frame.Width != e.width || frame.Height != e.height || e.buf == nil {
		e.width = frame.Width
		e.height = frame.Height
		e.buf = make([]byte, len(frame.Data))
	}

	switch e.kind {
	case GrayCycle:
		e.gray(frame.Data)
	case ColorCycle:
		e.color(frame.Data)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownKind, e.kind)
	}
	e.channel = (e.channel + 1) % 3
	return nil
}

func (e *Effect) gray(rgb []byte) {
	for i := 0; i+2 < len(e.buf); i += 3 {
		avg := (int(rgb[i]) + int(rgb[i+1]) + int(rgb[i+2])) / 3
		e.buf[i+2] = e.buf[i+1]
		e.buf[i+1] = e.buf[i]
		e.buf[i] = byte(avg)
	}
}

func (e *Effect) color(rgb []byte) {
	for i := e.channel; i < len(e.buf); i += 3 {
		e.buf[i] = rgb[i]
	}
}

// Produce returns the current output. The data of a cycling effect
// is owned by the effect and is valid until the next Ingest.
func (e *Effect) Produce() packager.Frame {
	if e.kind == Passthrough {
		return e.last
	}
	return packager.Frame{
		Width:  e.width,
		Height: e.height,
		Format: packager.RGB24,
		Data:   e.buf,
	}
}

// Apply ingests the frame and returns the output.
func (e *Effect) Apply(frame packager.Frame) (packager.Frame, error) {
	if err := e.Ingest(frame); err != nil {
		return packager.Frame{}, err
	}
	return e.Produce(), nil
}
