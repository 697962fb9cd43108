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

/*************************** stsd ****************************/

// Stsd is ISOBMFF stsd box type.
type Stsd struct {
	FullBox
	EntryCount uint32
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType { return BoxType{'s', 't', 's', 'd'} }

// Size returns the marshaled size in bytes.
func (*Stsd) Size() int { return 8 }

// Marshal box to writer.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, b.EntryCount)
	return w.TryError
}

/*************************** avc1 ****************************/

// Avc1 is the visual sample entry of a H264 track.
type Avc1 struct {
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	Horizresolution    uint32 // fixed-point 16.16
	Vertresolution     uint32 // fixed-point 16.16
	FrameCount         uint16
	Compressorname     string // at most 31 bytes
	Depth              uint16
}

// Type returns the BoxType.
func (*Avc1) Type() BoxType { return BoxType{'a', 'v', 'c', '1'} }

// Size returns the marshaled size in bytes.
func (*Avc1) Size() int { return 78 }

// Marshal box to writer.
func (b *Avc1) Marshal(w *bitio.Writer) error {
	w.TryWrite(make([]byte, 6)) // reserved
	writeUint16(w, b.DataReferenceIndex)
	w.TryWrite(make([]byte, 16)) // pre_defined, reserved
	writeUint16(w, b.Width)
	writeUint16(w, b.Height)
	writeUint32(w, b.Horizresolution)
	writeUint32(w, b.Vertresolution)
	writeUint32(w, 0) // reserved
	writeUint16(w, b.FrameCount)

	var name [32]byte
	n := copy(name[1:], b.Compressorname)
	name[0] = byte(n)
	w.TryWrite(name[:])

	writeUint16(w, b.Depth)
	writeUint16(w, 0xffff) // pre_defined = -1
	return w.TryError
}

/*************************** avcC ****************************/

// AvcC is the AVCDecoderConfigurationRecord box.
// ISO/IEC 14496-15 5.3.3.1
type AvcC struct {
	Profile              uint8
	ProfileCompatibility uint8
	Level                uint8
	LengthSizeMinusOne   uint8
	SPS                  [][]byte
	PPS                  [][]byte

	// Only written for the high profiles.
	ChromaFormat         uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
}

// Type returns the BoxType.
func (*AvcC) Type() BoxType { return BoxType{'a', 'v', 'c', 'C'} }

func (b *AvcC) hasHighProfileFields() bool {
	switch b.Profile {
	case 100, 110, 122, 144:
		return true
	}
	return false
}

// Size returns the marshaled size in bytes.
func (b *AvcC) Size() int {
	total := 7
	for _, sps := range b.SPS {
		total += 2 + len(sps)
	}
	for _, pps := range b.PPS {
		total += 2 + len(pps)
	}
	if b.hasHighProfileFields() {
		total += 4
	}
	return total
}

// Marshal box to writer.
func (b *AvcC) Marshal(w *bitio.Writer) error {
	w.TryWriteByte(1) // configurationVersion
	w.TryWriteByte(b.Profile)
	w.TryWriteByte(b.ProfileCompatibility)
	w.TryWriteByte(b.Level)
	w.TryWriteBits(0x3f, 6)
	w.TryWriteBits(uint64(b.LengthSizeMinusOne), 2)
	w.TryWriteBits(0x7, 3)
	w.TryWriteBits(uint64(len(b.SPS)), 5)
	for _, sps := range b.SPS {
		writeUint16(w, uint16(len(sps)))
		w.TryWrite(sps)
	}
	w.TryWriteByte(uint8(len(b.PPS)))
	for _, pps := range b.PPS {
		writeUint16(w, uint16(len(pps)))
		w.TryWrite(pps)
	}
	if b.hasHighProfileFields() {
		w.TryWriteBits(0x3f, 6)
		w.TryWriteBits(uint64(b.ChromaFormat), 2)
		w.TryWriteBits(0x1f, 5)
		w.TryWriteBits(uint64(b.BitDepthLumaMinus8), 3)
		w.TryWriteBits(0x1f, 5)
		w.TryWriteBits(uint64(b.BitDepthChromaMinus8), 3)
		w.TryWriteByte(0) // numOfSequenceParameterSetExt
	}
	return w.TryError
}

/*************************** stts ****************************/

// SttsEntry is a run of samples with the same duration.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// Type returns the BoxType.
func (*Stts) Type() BoxType { return BoxType{'s', 't', 't', 's'} }

// Size returns the marshaled size in bytes.
func (b *Stts) Size() int { return 8 + len(b.Entries)*8 }

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		writeUint32(w, e.SampleCount)
		writeUint32(w, e.SampleDelta)
	}
	return w.TryError
}

/*************************** stss ****************************/

// Stss is ISOBMFF stss box type.
type Stss struct {
	FullBox
	SampleNumbers []uint32 // 1-based
}

// Type returns the BoxType.
func (*Stss) Type() BoxType { return BoxType{'s', 't', 's', 's'} }

// Size returns the marshaled size in bytes.
func (b *Stss) Size() int { return 8 + len(b.SampleNumbers)*4 }

// Marshal box to writer.
func (b *Stss) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, uint32(len(b.SampleNumbers)))
	writeUint32s(w, b.SampleNumbers)
	return w.TryError
}

/*************************** stsc ****************************/

// StscEntry .
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType { return BoxType{'s', 't', 's', 'c'} }

// Size returns the marshaled size in bytes.
func (b *Stsc) Size() int { return 8 + len(b.Entries)*12 }

// Marshal box to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		writeUint32(w, e.FirstChunk)
		writeUint32(w, e.SamplesPerChunk)
		writeUint32(w, e.SampleDescriptionIndex)
	}
	return w.TryError
}

/*************************** stsz ****************************/

// Stsz is ISOBMFF stsz box type.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType { return BoxType{'s', 't', 's', 'z'} }

// Size returns the marshaled size in bytes.
func (b *Stsz) Size() int { return 12 + len(b.EntrySizes)*4 }

// Marshal box to writer.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, b.SampleSize)
	writeUint32(w, b.SampleCount)
	writeUint32s(w, b.EntrySizes)
	return w.TryError
}

/*************************** stco ****************************/

// Stco is ISOBMFF stco box type.
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

// Type returns the BoxType.
func (*Stco) Type() BoxType { return BoxType{'s', 't', 'c', 'o'} }

// Size returns the marshaled size in bytes.
func (b *Stco) Size() int { return 8 + len(b.ChunkOffsets)*4 }

// Marshal box to writer.
func (b *Stco) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, uint32(len(b.ChunkOffsets)))
	writeUint32s(w, b.ChunkOffsets)
	return w.TryError
}

/*************************** co64 ****************************/

// Co64 is ISOBMFF co64 box type, stco with 64 bit offsets.
type Co64 struct {
	FullBox
	ChunkOffsets []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType { return BoxType{'c', 'o', '6', '4'} }

// Size returns the marshaled size in bytes.
func (b *Co64) Size() int { return 8 + len(b.ChunkOffsets)*8 }

// Marshal box to writer.
func (b *Co64) Marshal(w *bitio.Writer) error {
	b.FullBox.marshalField(w)
	writeUint32(w, uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		writeUint64(w, offset)
	}
	return w.TryError
}
