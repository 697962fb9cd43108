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

// Package encoder defines the contract between the packager
// and H264 encoder backends.
package encoder

import (
	"errors"
	"fmt"
	"strconv"
)

// DefaultBitrateKbps is used when no bitrate is configured.
const DefaultBitrateKbps = 1000

// FrameType is the type of an encoded frame.
type FrameType uint8

// Frame types.
const (
	FrameTypeInvalid FrameType = iota
	FrameTypeIDR
	FrameTypeI
	FrameTypeP
	FrameTypeSkip
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeInvalid:
		return "invalid"
	case FrameTypeIDR:
		return "IDR"
	case FrameTypeI:
		return "I"
	case FrameTypeP:
		return "P"
	case FrameTypeSkip:
		return "skip"
	}
	return "FrameType(" + strconv.Itoa(int(t)) + ")"
}

// Bitstream is one encoded frame.
type Bitstream struct {
	// Layers are Annex-B buffers in encoder order.
	Layers    [][]byte
	FrameType FrameType
}

// Size returns the total number of bytes in all layers.
func (b Bitstream) Size() int {
	n := 0
	for _, l := range b.Layers {
		n += len(l)
	}
	return n
}

// Config is used to construct encoders.
type Config struct {
	Width       int
	Height      int
	BitrateKbps int

	// FPS is a hint for rate control.
	FPS float64
}

// Encoder is a H264 encoder backend.
//
// Every picture produces exactly one Bitstream, but encoders with
// latency may return it from a later Encode call or from Flush.
// Frames are always returned in input order.
type Encoder interface {
	// Encode encodes one picture and returns the frames that are ready.
	// The picture is not retained after the call returns.
	Encode(*Picture) ([]Bitstream, error)

	// Flush signals the end of input and returns the remaining frames.
	Flush() ([]Bitstream, error)

	Close() error
}

// Factory constructs an encoder.
type Factory func(Config) (Encoder, error)

// Errors.
var (
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrInvalidBitrate    = errors.New("invalid bitrate")
)

// Validate checks the dimensions and bitrate. Both dimensions must
// be even, the encoders operate on 4:2:0 macroblocks.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, c.Width, c.Height)
	}
	if c.BitrateKbps <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBitrate, c.BitrateKbps)
	}
	return nil
}
