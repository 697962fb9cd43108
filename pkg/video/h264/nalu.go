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

// Package h264 contains H264 bitstream utilities.
package h264

import "strconv"

// MaxNALUSize is the maximum size of a NALU.
// with a 250 Mbps H264 video, the maximum NALU size is 2.2MB.
// I_PCM pictures are larger, a 4K picture is about 12MB.
const MaxNALUSize = 16 * 1024 * 1024

// NALUType is the type of a NALU.
type NALUType uint8

// NALU types.
const (
	NALUTypeNonIDR           NALUType = 1
	NALUTypeDataPartitionA   NALUType = 2
	NALUTypeDataPartitionB   NALUType = 3
	NALUTypeDataPartitionC   NALUType = 4
	NALUTypeIDR              NALUType = 5
	NALUTypeSEI              NALUType = 6
	NALUTypeSPS              NALUType = 7
	NALUTypePPS              NALUType = 8
	NALUTypeAccessUnitDelim  NALUType = 9
	NALUTypeEndOfSequence    NALUType = 10
	NALUTypeEndOfStream      NALUType = 11
	NALUTypeFillerData       NALUType = 12
	NALUTypeSPSExtension     NALUType = 13
	NALUTypePrefix           NALUType = 14
	NALUTypeSubsetSPS        NALUType = 15
	NALUTypeSliceLayerNoPart NALUType = 19
	NALUTypeSliceExtension   NALUType = 20
)

var naluTypeLabels = map[NALUType]string{
	NALUTypeNonIDR:           "NonIDR",
	NALUTypeDataPartitionA:   "DataPartitionA",
	NALUTypeDataPartitionB:   "DataPartitionB",
	NALUTypeDataPartitionC:   "DataPartitionC",
	NALUTypeIDR:              "IDR",
	NALUTypeSEI:              "SEI",
	NALUTypeSPS:              "SPS",
	NALUTypePPS:              "PPS",
	NALUTypeAccessUnitDelim:  "AccessUnitDelimiter",
	NALUTypeEndOfSequence:    "EndOfSequence",
	NALUTypeEndOfStream:      "EndOfStream",
	NALUTypeFillerData:       "FillerData",
	NALUTypeSPSExtension:     "SPSExtension",
	NALUTypePrefix:           "Prefix",
	NALUTypeSubsetSPS:        "SubsetSPS",
	NALUTypeSliceLayerNoPart: "SliceLayerWithoutPartitioning",
	NALUTypeSliceExtension:   "SliceExtension",
}

// String implements fmt.Stringer.
func (nt NALUType) String() string {
	if l, ok := naluTypeLabels[nt]; ok {
		return l
	}
	return "unknown(" + strconv.Itoa(int(nt)) + ")"
}

// TypeOf returns the type of a NALU from its header byte.
func TypeOf(header byte) NALUType {
	return NALUType(header & 0x1F)
}

// Class is the role a NALU plays when packaging.
type Class uint8

// NALU classes.
const (
	ClassOther Class = iota
	ClassSPS
	ClassPPS
)

// Class returns the packaging class of the type.
func (nt NALUType) Class() Class {
	switch nt {
	case NALUTypeSPS:
		return ClassSPS
	case NALUTypePPS:
		return ClassPPS
	}
	return ClassOther
}

// IsParameterSet reports whether the type is a SPS or PPS.
func (nt NALUType) IsParameterSet() bool {
	return nt.Class() != ClassOther
}

// NALU is a NAL unit located in an Annex-B stream.
type NALU struct {
	// StartCodeLen is the length of the start code that preceded
	// the unit, 3 or 4. Only used to locate the boundary.
	StartCodeLen int

	Type NALUType

	// Payload includes the header byte and excludes the start code.
	Payload []byte
}
