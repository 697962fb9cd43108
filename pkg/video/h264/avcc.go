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

package h264

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// AVCC errors.
var (
	ErrAVCCInvalidLength = errors.New("invalid length")
)

// AVCCnaluSizeTooBigError .
type AVCCnaluSizeTooBigError struct {
	NALUSize int
}

func (e AVCCnaluSizeTooBigError) Error() string {
	return fmt.Sprintf("NALU size (%d) is too big (maximum is %d)", e.NALUSize, MaxNALUSize)
}

// AVCCUnmarshal decodes NALUs from the AVCC stream format.
// lengthSize is the size of the length prefix in bytes, 1, 2 or 4.
func AVCCUnmarshal(buf []byte, lengthSize int) ([][]byte, error) {
	bl := len(buf)
	pos := 0
	var ret [][]byte

	for pos < bl {
		if (bl - pos) < lengthSize {
			return nil, ErrAVCCInvalidLength
		}

		var le int
		switch lengthSize {
		case 1:
			le = int(buf[pos])
		case 2:
			le = int(binary.BigEndian.Uint16(buf[pos:]))
		case 4:
			le = int(binary.BigEndian.Uint32(buf[pos:]))
		default:
			return nil, fmt.Errorf("unsupported length size: %d", lengthSize)
		}
		pos += lengthSize

		if le > MaxNALUSize {
			return nil, AVCCnaluSizeTooBigError{NALUSize: le}
		}
		if (bl - pos) < le {
			return nil, ErrAVCCInvalidLength
		}

		ret = append(ret, buf[pos:pos+le])
		pos += le
	}

	return ret, nil
}

// AVCCMarshalSize returns the size of the marshaled NALUs.
func AVCCMarshalSize(nalus [][]byte) int {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	return n
}

// AVCCMarshal encodes NALUs into the AVCC stream format
// with 4 byte big-endian length prefixes.
func AVCCMarshal(nalus [][]byte) []byte {
	return AVCCAppend(make([]byte, 0, AVCCMarshalSize(nalus)), nalus...)
}

// AVCCAppend appends length prefixed NALUs to dst.
func AVCCAppend(dst []byte, nalus ...[]byte) []byte {
	for _, nalu := range nalus {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(nalu)))
		dst = append(dst, nalu...)
	}
	return dst
}
