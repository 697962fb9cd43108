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

package mp4

import (
	"github.com/icza/bitio"
)

// IdentityMatrix is the unity transformation matrix of mvhd and tkhd.
var IdentityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

func (b *FullBox) flags() uint32 {
	return uint32(b.Flags[0])<<16 | uint32(b.Flags[1])<<8 | uint32(b.Flags[2])
}

func (b *FullBox) marshalField(w *bitio.Writer) {
	w.TryWriteByte(b.Version)
	w.TryWrite(b.Flags[:])
}

// container is embedded by boxes without fields of their own.
type container struct{}

// Size returns the marshaled size in bytes.
func (container) Size() int { return 0 }

// Marshal is a no-op.
func (container) Marshal(*bitio.Writer) error { return nil }

// Moov is ISOBMFF moov box type.
type Moov struct{ container }

// Type returns the BoxType.
func (*Moov) Type() BoxType { return BoxType{'m', 'o', 'o', 'v'} }

// Trak is ISOBMFF trak box type.
type Trak struct{ container }

// Type returns the BoxType.
func (*Trak) Type() BoxType { return BoxType{'t', 'r', 'a', 'k'} }

// Mdia is ISOBMFF mdia box type.
type Mdia struct{ container }

// Type returns the BoxType.
func (*Mdia) Type() BoxType { return BoxType{'m', 'd', 'i', 'a'} }

// Minf is ISOBMFF minf box type.
type Minf struct{ container }

// Type returns the BoxType.
func (*Minf) Type() BoxType { return BoxType{'m', 'i', 'n', 'f'} }

// Dinf is ISOBMFF dinf box type.
type Dinf struct{ container }

// Type returns the BoxType.
func (*Dinf) Type() BoxType { return BoxType{'d', 'i', 'n', 'f'} }

// Stbl is ISOBMFF stbl box type.
type Stbl struct{ container }

// Type returns the BoxType.
func (*Stbl) Type() BoxType { return BoxType{'s', 't', 'b', 'l'} }

// Free is ISOBMFF free box type.
type Free struct{ container }

// Type returns the BoxType.
func (*Free) Type() BoxType { return BoxType{'f', 'r', 'e', 'e'} }

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands [][4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType { return BoxType{'f', 't', 'y', 'p'} }

// Size returns the marshaled size in bytes.
func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	writeUint32(w, b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.TryWrite(brand[:])
	}
	return w.TryError
}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
// Version 1 stores times and duration as 64 bit values.
type Mvhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             int32 // fixed-point 16.16
	Volume           int16 // fixed-point 8.8
	Matrix           [9]int32
	NextTrackID      uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType { return BoxType{'m', 'v', 'h', 'd'} }

// Size returns the marshaled size in bytes.
func (b *Mvhd) Size() int {
	if b.Version == 0 {
		return 100
	}
	return 112
}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeTimes(w, b.Version, b.CreationTime, b.ModificationTime)
	writeUint32(w, b.Timescale)
	writeVersioned(w, b.Version, b.Duration)
	writeUint32(w, uint32(b.Rate))
	writeUint16(w, uint16(b.Volume))
	w.TryWrite(make([]byte, 10)) // reserved
	for _, v := range b.Matrix {
		writeUint32(w, uint32(v))
	}
	w.TryWrite(make([]byte, 24)) // pre_defined
	writeUint32(w, b.NextTrackID)
	return w.TryError
}

func writeVersioned(w *bitio.Writer, version uint8, v uint64) {
	if version == 0 {
		writeUint32(w, uint32(v))
	} else {
		writeUint64(w, v)
	}
}

func writeTimes(w *bitio.Writer, version uint8, creation, modification uint64) {
	writeVersioned(w, version, creation)
	writeVersioned(w, version, modification)
}

/*************************** tkhd ****************************/

// Tkhd flags.
const (
	TkhdTrackEnabled = 0x000001
	TkhdTrackInMovie = 0x000002
)

// Tkhd is ISOBMFF tkhd box type.
type Tkhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	TrackID          uint32
	Duration         uint64
	Layer            int16
	AlternateGroup   int16
	Volume           int16
	Matrix           [9]int32
	Width            uint32 // fixed-point 16.16
	Height           uint32 // fixed-point 16.16
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType { return BoxType{'t', 'k', 'h', 'd'} }

// Size returns the marshaled size in bytes.
func (b *Tkhd) Size() int {
	if b.Version == 0 {
		return 84
	}
	return 96
}

// Marshal box to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeTimes(w, b.Version, b.CreationTime, b.ModificationTime)
	writeUint32(w, b.TrackID)
	writeUint32(w, 0) // reserved
	writeVersioned(w, b.Version, b.Duration)
	w.TryWrite(make([]byte, 8)) // reserved
	writeUint16(w, uint16(b.Layer))
	writeUint16(w, uint16(b.AlternateGroup))
	writeUint16(w, uint16(b.Volume))
	writeUint16(w, 0) // reserved
	for _, v := range b.Matrix {
		writeUint32(w, uint32(v))
	}
	writeUint32(w, b.Width)
	writeUint32(w, b.Height)
	return w.TryError
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Language         [3]byte // ISO-639-2/T language code
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType { return BoxType{'m', 'd', 'h', 'd'} }

// Size returns the marshaled size in bytes.
func (b *Mdhd) Size() int {
	if b.Version == 0 {
		return 24
	}
	return 36
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeTimes(w, b.Version, b.CreationTime, b.ModificationTime)
	writeUint32(w, b.Timescale)
	writeVersioned(w, b.Version, b.Duration)

	// Each character is packed as the difference from 0x60 in 5 bits.
	w.TryWriteBool(false) // pad
	for _, c := range b.Language {
		w.TryWriteBits(uint64(c-0x60), 5)
	}
	writeUint16(w, 0) // pre_defined
	return w.TryError
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	HandlerType [4]byte
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType { return BoxType{'h', 'd', 'l', 'r'} }

// Size returns the marshaled size in bytes.
func (b *Hdlr) Size() int {
	return 4 + 4 + 4 + 12 + len(b.Name) + 1
}

// Marshal box to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, 0) // pre_defined
	w.TryWrite(b.HandlerType[:])
	w.TryWrite(make([]byte, 12)) // reserved
	w.TryWrite([]byte(b.Name))
	w.TryWriteByte(0)
	return w.TryError
}

/*************************** vmhd ****************************/

// Vmhd is ISOBMFF vmhd box type.
type Vmhd struct {
	FullBox
	Graphicsmode uint16
	Opcolor      [3]uint16
}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType { return BoxType{'v', 'm', 'h', 'd'} }

// Size returns the marshaled size in bytes.
func (*Vmhd) Size() int { return 12 }

// Marshal box to writer.
func (b *Vmhd) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint16(w, b.Graphicsmode)
	for _, c := range b.Opcolor {
		writeUint16(w, c)
	}
	return w.TryError
}

/*************************** dref ****************************/

// Dref is ISOBMFF dref box type.
type Dref struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Dref) Type() BoxType { return BoxType{'d', 'r', 'e', 'f'} }

// Size returns the marshaled size in bytes.
func (*Dref) Size() int { return 8 }

// Marshal box to writer.
func (b *Dref) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, b.EntryCount)
	return w.TryError
}

/*************************** url ****************************/

// URLSelfContained means the media data is in the same file.
const URLSelfContained = 0x000001

// URL is ISOBMFF "url " box type.
type URL struct {
	FullBox
	Location string
}

// Type returns the BoxType.
func (*URL) Type() BoxType { return BoxType{'u', 'r', 'l', ' '} }

// Size returns the marshaled size in bytes.
func (b *URL) Size() int {
	if b.flags()&URLSelfContained != 0 {
		return 4
	}
	return 4 + len(b.Location) + 1
}

// Marshal box to writer.
func (b *URL) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	if b.flags()&URLSelfContained == 0 {
		w.TryWrite([]byte(b.Location))
		w.TryWriteByte(0)
	}
	return w.TryError
}
