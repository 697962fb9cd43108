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
	"errors"
	"fmt"
)

// Errors.
var (
	ErrMissingParameterSets = errors.New("first encoded frame is missing SPS or PPS")
	ErrFinalized            = errors.New("muxer is finalized")
	ErrFrameLayout          = errors.New("frame data does not match layout")
	ErrInvalidFramerate     = errors.New("invalid framerate")
	ErrNoPictureData        = errors.New("first encoded frame has no picture data")
)

// EncoderInitError the encoder could not be constructed.
type EncoderInitError struct {
	Width       int
	Height      int
	BitrateKbps int
	Err         error
}

func (e *EncoderInitError) Error() string {
	return fmt.Sprintf("init encoder %dx%d at %d kbps: %v",
		e.Width, e.Height, e.BitrateKbps, e.Err)
}

func (e *EncoderInitError) Unwrap() error { return e.Err }

// EncodeError the encoder failed on a frame.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return e.Err.Error() }

func (e *EncodeError) Unwrap() error { return e.Err }

// ContainerWriteError the output sink failed.
type ContainerWriteError struct {
	Op  string
	Err error
}

func (e *ContainerWriteError) Error() string {
	return fmt.Sprintf("container %v: %v", e.Op, e.Err)
}

func (e *ContainerWriteError) Unwrap() error { return e.Err }

// Size of a frame.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// DimensionMismatchError frame dimensions differ from the encoder.
type DimensionMismatchError struct {
	Want Size
	Got  Size
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("frame dimensions %v do not match encoder %v", e.Got, e.Want)
}

// BitstreamError the encoder output could not be parsed.
type BitstreamError struct {
	Err error
}

func (e *BitstreamError) Error() string {
	return fmt.Sprintf("bitstream: %v", e.Err)
}

func (e *BitstreamError) Unwrap() error { return e.Err }
