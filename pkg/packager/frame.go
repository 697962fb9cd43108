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

package packager

import (
	"fmt"

	"mp4rec/pkg/video/encoder"
)

// PixelFormat is the layout of Frame.Data.
type PixelFormat = encoder.PixelFormat

// Pixel formats.
const (
	RGB24  = encoder.RGB24
	YUV420 = encoder.YUV420
)

// Frame is one raw picture. The data is only
// read during the call it is passed to.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

// Size returns the frame dimensions.
func (f Frame) Size() Size {
	return Size{Width: f.Width, Height: f.Height}
}

// Validate checks that the data length matches the layout.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %v", ErrFrameLayout, f.Size())
	}
	want := f.Format.FrameSize(f.Width, f.Height)
	if want == 0 {
		return fmt.Errorf("%w: unknown format %v", ErrFrameLayout, f.Format)
	}
	if len(f.Data) != want {
		return fmt.Errorf("%w: %v %v expects %d bytes, got %d",
			ErrFrameLayout, f.Format, f.Size(), want, len(f.Data))
	}
	return nil
}
