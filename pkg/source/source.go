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

// Package source produces raw frames for recording.
package source

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"mp4rec/pkg/packager"
)

// Source produces raw frames. Next returns io.EOF after the last frame.
// The returned frame data may be reused by the next call.
type Source interface {
	Next() (packager.Frame, error)
}

// Kind selects a source.
type Kind uint8

// Sources.
const (
	KindPattern Kind = iota
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindPattern:
		return "pattern"
	case KindRaw:
		return "raw"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ErrUnknownKind unknown source.
var ErrUnknownKind = errors.New("unknown source")

// ParseKind parses a config value.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "pattern":
		return KindPattern, nil
	case "raw":
		return KindRaw, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Pattern is a test pattern, a white rectangle that
// moves diagonally over a black background and bounces
// off the edges.
type Pattern struct {
	width  int
	height int
	format packager.PixelFormat
	frames int

	n   int
	buf []byte

	// Rectangle position, size and direction.
	x, y   int
	rw, rh int
	dx, dy int
}

// ErrInvalidPattern invalid pattern.
var ErrInvalidPattern = errors.New("invalid pattern")

// NewPattern returns a pattern that produces the given number
// of frames, zero means no limit.
func NewPattern(width, height int, format packager.PixelFormat, frames int) (*Pattern, error) {
	size := format.FrameSize(width, height)
	if width <= 0 || height <= 0 || size == 0 {
		return nil, fmt.Errorf("%w: %v %dx%d", ErrInvalidPattern, format, width, height)
	}
	// Even sizes keep the rectangle aligned to the chroma grid.
	rw := max(2, width/4) &^ 1
	rh := max(2, height/4) &^ 1
	return &Pattern{
		width:  width,
		height: height,
		format: format,
		frames: frames,
		buf:    make([]byte, size),
		rw:     min(rw, width),
		rh:     min(rh, height),
		dx:     2,
		dy:     2,
	}, nil
}

// Next implements Source.
func (p *Pattern) Next() (packager.Frame, error) {
	if p.frames > 0 && p.n >= p.frames {
		return packager.Frame{}, io.EOF
	}
	p.draw()
	p.n++
	p.x, p.dx = bounce(p.x, p.dx, p.width-p.rw)
	p.y, p.dy = bounce(p.y, p.dy, p.height-p.rh)

	return packager.Frame{
		Width:  p.width,
		Height: p.height,
		Format: p.format,
		Data:   p.buf,
	}, nil
}

func bounce(pos, step, limit int) (int, int) {
	if limit <= 0 {
		return 0, step
	}
	next := pos + step
	if next < 0 || next > limit {
		step = -step
		next = min(max(pos+step, 0), limit)
	}
	return next, step
}

func (p *Pattern) inRect(x, y int) bool {
	return x >= p.x && x < p.x+p.rw && y >= p.y && y < p.y+p.rh
}

func (p *Pattern) draw() {
	w, h := p.width, p.height
	switch p.format {
	case packager.RGB24:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var v byte
				if p.inRect(x, y) {
					v = 255
				}
				i := (y*w + x) * 3
				p.buf[i], p.buf[i+1], p.buf[i+2] = v, v, v
			}
		}
	case packager.YUV420:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := byte(16)
				if p.inRect(x, y) {
					v = 235
				}
				p.buf[y*w+x] = v
			}
		}
		chroma := p.buf[w*h:]
		for i := range chroma {
			chroma[i] = 128
		}
	}
}

// RawReader reads consecutive raw frames of a fixed size.
type RawReader struct {
	r      io.Reader
	width  int
	height int
	format packager.PixelFormat
	buf    []byte
}

// NewRawReader returns a raw frame reader.
func NewRawReader(r io.Reader, width, height int, format packager.PixelFormat) (*RawReader, error) {
	size := format.FrameSize(width, height)
	if width <= 0 || height <= 0 || size == 0 {
		return nil, fmt.Errorf("%w: %v %dx%d", packager.ErrFrameLayout, format, width, height)
	}
	return &RawReader{
		r:      r,
		width:  width,
		height: height,
		format: format,
		buf:    make([]byte, size),
	}, nil
}

// Next implements Source. A partial frame at the end of
// the input returns io.ErrUnexpectedEOF.
func (r *RawReader) Next() (packager.Frame, error) {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return packager.Frame{}, err
	}
	return packager.Frame{
		Width:  r.width,
		Height: r.height,
		Format: r.format,
		Data:   r.buf,
	}, nil
}
