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

// Package mp4 marshals the ISOBMFF boxes of a progressive MP4 file.
package mp4

import (
	"bytes"
	"encoding/binary"

	"github.com/icza/bitio"
)

// Box header sizes.
const (
	HeaderSize      = 8
	LargeHeaderSize = 16
)

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string { return string(t[:]) }

// ImmutableBox is common interface of box.
type ImmutableBox interface {
	// Type returns the BoxType.
	Type() BoxType

	// Size returns the marshaled size in bytes excluding the header.
	// The size must be known before marshaling
	// since the box header contains the size.
	Size() int

	// Marshal box to writer.
	Marshal(w *bitio.Writer) error
}

// Boxes is a structure of boxes that can be marshaled together.
type Boxes struct {
	Box      ImmutableBox
	Children []Boxes
}

// Size returns the total size of the box including header and children.
func (b *Boxes) Size() int {
	total := HeaderSize + b.Box.Size()
	for _, child := range b.Children {
		total += child.Size()
	}
	return total
}

// Marshal box including children.
func (b *Boxes) Marshal(w *bitio.Writer) error {
	writeBoxInfo(w, uint32(b.Size()), b.Box.Type())
	if w.TryError != nil {
		return w.TryError
	}

	if err := b.Box.Marshal(w); err != nil {
		return err
	}

	for _, child := range b.Children {
		if err := child.Marshal(w); err != nil {
			return err
		}
	}
	return nil
}

// Bytes marshals the box tree into a new buffer.
func (b *Boxes) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(b.Size())
	if err := b.Marshal(bitio.NewWriter(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBoxInfo(w *bitio.Writer, size uint32, typ BoxType) {
	writeUint32(w, size)
	w.TryWrite(typ[:])
}

// WriteSingleBox write a single box.
func WriteSingleBox(w *bitio.Writer, b ImmutableBox) (int, error) {
	size := HeaderSize + b.Size()

	writeBoxInfo(w, uint32(size), b.Type())
	if w.TryError != nil {
		return 0, w.TryError
	}
	if err := b.Marshal(w); err != nil {
		return 0, err
	}
	return size, nil
}

// MdatHeader returns a large size mdat header for a payload of
// payloadSize bytes. The large form is always used so the header
// can be patched in place once the final size is known.
func MdatHeader(payloadSize uint64) []byte {
	buf := make([]byte, LargeHeaderSize)
	binary.BigEndian.PutUint32(buf[0:], 1)
	copy(buf[4:], "mdat")
	binary.BigEndian.PutUint64(buf[8:], LargeHeaderSize+payloadSize)
	return buf
}

func writeUint16(w *bitio.Writer, v uint16) { w.TryWriteBits(uint64(v), 16) }
func writeUint32(w *bitio.Writer, v uint32) { w.TryWriteBits(uint64(v), 32) }
func writeUint64(w *bitio.Writer, v uint64) { w.TryWriteBits(v, 64) }

func writeUint32s(w *bitio.Writer, values []uint32) {
	for _, v := range values {
		writeUint32(w, v)
	}
}
