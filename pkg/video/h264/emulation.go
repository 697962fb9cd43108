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

// EscapeRBSP inserts emulation prevention bytes so that the
// result never contains a start code. ISO/IEC 14496-10 7.4.1
func EscapeRBSP(rbsp []byte) []byte {
	ret := make([]byte, 0, len(rbsp)+len(rbsp)/64+1)
	zeros := 0

	for _, b := range rbsp {
		if zeros >= 2 && b <= 0x03 {
			ret = append(ret, 0x03)
			zeros = 0
		}
		ret = append(ret, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}

	// Trailing cabac_zero_words.
	if zeros >= 2 {
		ret = append(ret, 0x03)
	}
	return ret
}

// UnescapeRBSP removes emulation prevention bytes.
func UnescapeRBSP(buf []byte) []byte {
	ret := make([]byte, 0, len(buf))
	zeros := 0

	for i, b := range buf {
		if zeros == 2 && b == 0x03 {
			if i == len(buf)-1 || buf[i+1] <= 0x03 {
				zeros = 0
				continue
			}
		}
		ret = append(ret, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return ret
}
