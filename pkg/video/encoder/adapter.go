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
)

// ErrNoFactory no encoder factory.
var ErrNoFactory = errors.New("no encoder factory")

// Adapter owns an encoder and its working picture.
// The dimensions are fixed for the lifetime of the adapter.
type Adapter struct {
	conf Config
	enc  Encoder
	pic  *Picture
}

// NewAdapter validates the config and constructs the encoder.
func NewAdapter(factory Factory, conf Config) (*Adapter, error) {
	if factory == nil {
		return nil, ErrNoFactory
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	enc, err := factory(conf)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		conf: conf,
		enc:  enc,
		pic:  NewPicture(conf.Width, conf.Height),
	}, nil
}

// Config returns the config the encoder was constructed with.
func (a *Adapter) Config() Config {
	return a.conf
}

// Encode converts the frame data into the working picture and encodes it.
func (a *Adapter) Encode(format PixelFormat, data []byte) ([]Bitstream, error) {
	if err := a.pic.Read(format, data); err != nil {
		return nil, err
	}
	frames, err := a.enc.Encode(a.pic)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return frames, nil
}

// Flush returns the frames the encoder is still holding.
func (a *Adapter) Flush() ([]Bitstream, error) {
	frames, err := a.enc.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return frames, nil
}

// Close closes the encoder.
func (a *Adapter) Close() error {
	return a.enc.Close()
}
