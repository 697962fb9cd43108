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

package pcm

import (
	"bytes"
	"math/bits"

	"mp4rec/pkg/video/h264"

	"github.com/icza/bitio"
)

// rbspWriter builds the payload of one NALU.
type rbspWriter struct {
	buf bytes.Buffer
	w   *bitio.Writer
}

func newRBSPWriter(sizeHint int) *rbspWriter {
	r := &rbspWriter{}
	r.buf.Grow(sizeHint)
	r.w = bitio.NewWriter(&r.buf)
	return r
}

func (r *rbspWriter) u(v uint64, n uint8) {
	r.w.TryWriteBits(v, n)
}

func (r *rbspWriter) flag(b bool) {
	r.w.TryWriteBool(b)
}

// ue writes an unsigned Exp-Golomb code.
func (r *rbspWriter) ue(v uint32) {
	codeNum := uint64(v) + 1
	n := uint8(bits.Len64(codeNum))
	if n > 1 {
		r.w.TryWriteBits(0, n-1)
	}
	r.w.TryWriteBits(codeNum, n)
}

// se writes a signed Exp-Golomb code.
func (r *rbspWriter) se(v int32) {
	if v > 0 {
		r.ue(uint32(2*v - 1))
	} else {
		r.ue(uint32(-2 * v))
	}
}

func (r *rbspWriter) align() {
	r.w.TryAlign()
}

func (r *rbspWriter) bytes(p []byte) {
	r.w.TryWrite(p)
}

// trailingBits writes rbsp_trailing_bits.
func (r *rbspWriter) trailingBits() {
	r.w.TryWriteBool(true)
	r.w.TryAlign()
}

// nalu finishes the payload and returns it as an escaped NALU.
func (r *rbspWriter) nalu(header byte) ([]byte, error) {
	r.trailingBits()
	if r.w.TryError != nil {
		return nil, r.w.TryError
	}
	escaped := h264.EscapeRBSP(r.buf.Bytes())
	return append([]byte{header}, escaped...), nil
}
