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

package packager

import (
	"fmt"

	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/h264"
	"mp4rec/pkg/video/mp4muxer"
)

// BuildSample reframes the units of one frame into a sample.
// Parameter sets are left out, they are stored in the track
// configuration. The payload is empty if no other units remain.
func BuildSample(
	units []h264.NALU,
	frameType encoder.FrameType,
	startTime uint64,
	duration uint32,
) mp4muxer.Sample {
	size := 0
	for _, u := range units {
		if !u.Type.IsParameterSet() {
			size += 4 + len(u.Payload)
		}
	}

	payload := make([]byte, 0, size)
	for _, u := range units {
		if !u.Type.IsParameterSet() {
			payload = h264.AVCCAppend(payload, u.Payload)
		}
	}

	return mp4muxer.Sample{
		StartTime: startTime,
		Duration:  duration,
		IsSync:    frameType == encoder.FrameTypeIDR,
		Payload:   payload,
	}
}

// splitBitstream splits every layer. Only the first layer is
// packaged but the others must parse.
func splitBitstream(bs encoder.Bitstream) ([][]h264.NALU, error) {
	layers := make([][]h264.NALU, 0, len(bs.Layers))
	for i, layer := range bs.Layers {
		units, err := h264.SplitAnnexB(layer)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, units)
	}
	return layers, nil
}
