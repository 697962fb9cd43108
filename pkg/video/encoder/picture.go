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

package encoder

import (
	"errors"
	"fmt"
	"strings"
)

// PixelFormat is the layout of raw frame data.
type PixelFormat uint8

// Pixel formats.
const (
	// RGB24 is packed 8 bit R, G, B.
	RGB24 PixelFormat = iota

	// YUV420 is planar 4:2:0, all Y, then all Cb, then all Cr.
	// The chroma planes are width/2 by height/2.
	YUV420
)

func (f PixelFormat) String() string {
	switch f {
	case RGB24:
		return "rgb24"
	case YUV420:
		return "yuv420"
	}
	return "unknown"
}

// ErrUnknownPixelFormat unknown pixel format.
var ErrUnknownPixelFormat = errors.New("unknown pixel format")

// ParsePixelFormat parses "rgb24" or "yuv420".
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(s) {
	case "rgb24", "rgb":
		return RGB24, nil
	case "yuv420", "yuv420p", "i420":
		return YUV420, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPixelFormat, s)
}

// FrameSize returns the number of bytes in a frame of this format.
func (f PixelFormat) FrameSize(width, height int) int {
	switch f {
	case RGB24:
		return width * height * 3
	case YUV420:
		return width*height + 2*((width/2)*(height/2))
	}
	return 0
}

// Picture is a planar 4:2:0 working picture.
type Picture struct {
	Width  int
	Height int
	Y      []byte
	Cb     []byte
	Cr     []byte
}

// NewPicture allocates a picture.
func NewPicture(width, height int) *Picture {
	chroma := (width / 2) * (height / 2)
	buf := make([]byte, width*height+2*chroma)
	return &Picture{
		Width:  width,
		Height: height,
		Y:      buf[:width*height],
		Cb:     buf[width*height : width*height+chroma],
		Cr:     buf[width*height+chroma:],
	}
}

// ErrPictureSize data size does not match the picture.
var ErrPictureSize = errors.New("data size does not match picture")

// Read fills the picture from raw frame data.
func (p *Picture) Read(format PixelFormat, data []byte) error {
	if want := format.FrameSize(p.Width, p.Height); want == 0 || len(data) != want {
		return fmt.Errorf("%w: %v %dx%d, got %d bytes",
			ErrPictureSize, format, p.Width, p.Height, len(data))
	}
	switch format {
	case RGB24:
		p.readRGB(data)
	case YUV420:
		n := copy(p.Y, data)
		n += copy(p.Cb, data[n:])
		copy(p.Cr, data[n:])
	default:
		return ErrUnknownPixelFormat
	}
	return nil
}

// readRGB converts with BT.601 limited range coefficients.
// Chroma is the average of each 2x2 block.
func (p *Picture) readRGB(rgb []byte) {
	w, h := p.Width, p.Height
	for i := 0; i < w*h; i++ {
		r, g, b := int(rgb[i*3]), int(rgb[i*3+1]), int(rgb[i*3+2])
		p.Y[i] = clamp(((66*r+129*g+25*b+128)>>8)+16, 16, 235)
	}

	cw := w / 2
	for cy := 0; cy < h/2; cy++ {
		for cx := 0; cx < cw; cx++ {
			var r, g, b int
			for _, off := range [4]int{
				(2*cy)*w + 2*cx,
				(2*cy)*w + 2*cx + 1,
				(2*cy+1)*w + 2*cx,
				(2*cy+1)*w + 2*cx + 1,
			} {
				r += int(rgb[off*3])
				g += int(rgb[off*3+1])
				b += int(rgb[off*3+2])
			}
			r, g, b = (r+2)/4, (g+2)/4, (b+2)/4
			p.Cb[cy*cw+cx] = clamp(((-38*r-74*g+112*b+128)>>8)+128, 16, 240)
			p.Cr[cy*cw+cx] = clamp(((112*r-94*g-18*b+128)>>8)+128, 16, 240)
		}
	}
}

func clamp(v, lo, hi int) byte {
	if v < lo {
		return byte(lo)
	}
	if v > hi {
		return byte(hi)
	}
	return byte(v)
}
