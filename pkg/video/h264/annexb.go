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
	"bytes"
	"errors"
	"fmt"
)

// Annex-B errors.
var (
	ErrAnnexBNoStartCode = errors.New("no start code")
	ErrAnnexBEmptyNALU   = errors.New("empty NALU")
)

// AnnexBNALUSizeTooBigError .
type AnnexBNALUSizeTooBigError struct {
	NALUSize int
}

func (e AnnexBNALUSizeTooBigError) Error() string {
	return fmt.Sprintf("NALU size (%d) is too big (maximum is %d)", e.NALUSize, MaxNALUSize)
}

var startCode3 = []byte{0x00, 0x00, 0x01}

// startCodeAt returns the length of the start code at pos, or 0.
func startCodeAt(buf []byte, pos int) int {
	rest := buf[pos:]
	switch {
	case len(rest) >= 4 && rest[0] == 0 && rest[1] == 0 && rest[2] == 0 && rest[3] == 1:
		return 4
	case len(rest) >= 3 && rest[0] == 0 && rest[1] == 0 && rest[2] == 1:
		return 3
	}
	return 0
}

// SplitAnnexB splits an Annex-B stream into NAL units in stream order.
//
// Every unit must be preceded by a 3 or 4 byte start code, bytes that
// are not a start code at the scan position are an error. A zero byte
// directly before a 3 byte start code belongs to that start code.
// A start code at the end of the buffer is not emitted as a unit.
func SplitAnnexB(buf []byte) ([]NALU, error) {
	var ret []NALU
	pos := 0
	scLen := 0

	if len(buf) == 0 {
		return nil, nil
	}

	scLen = startCodeAt(buf, pos)
	if scLen == 0 {
		return nil, fmt.Errorf("%w at offset %d", ErrAnnexBNoStartCode, pos)
	}

	for {
		start := pos + scLen
		if start == len(buf) {
			return ret, nil
		}

		next := bytes.Index(buf[start:], startCode3)
		end := len(buf)
		nextSCLen := 0
		if next != -1 {
			end = start + next
			nextSCLen = 3
			if end > start && buf[end-1] == 0 {
				end--
				nextSCLen = 4
			}
		}
		if end == start {
			return nil, fmt.Errorf("%w at offset %d", ErrAnnexBEmptyNALU, start)
		}
		if end-start > MaxNALUSize {
			return nil, AnnexBNALUSizeTooBigError{NALUSize: end - start}
		}

		ret = append(ret, NALU{
			StartCodeLen: scLen,
			Type:         TypeOf(buf[start]),
			Payload:      buf[start:end],
		})

		if next == -1 {
			return ret, nil
		}
		pos = start + next + 3 - nextSCLen
		scLen = nextSCLen
	}
}

func annexBEncodeSize(nalus [][]byte) int {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	return n
}

// AnnexBMarshal encodes NALUs into the Annex-B stream format.
func AnnexBMarshal(nalus [][]byte) []byte {
	buf := make([]byte, annexBEncodeSize(nalus))
	pos := 0

	for _, nalu := range nalus {
		pos += copy(buf[pos:], []byte{0x00, 0x00, 0x00, 0x01})
		pos += copy(buf[pos:], nalu)
	}

	return buf
}
