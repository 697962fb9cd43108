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
	"mp4rec/pkg/video/h264"
)

// ParameterSetCache holds the SPS and PPS of the track.
//
// The first complete pair wins and is never replaced. If the encoder
// later emits different parameter sets the track configuration
// is stale, changing them would require a new container.
type ParameterSetCache struct {
	sps []byte
	pps []byte
}

// Capture finds the first SPS and the first PPS in the units.
// Units are searched in order. It is a no-op once the cache is ready.
func (c *ParameterSetCache) Capture(units []h264.NALU) error {
	if c.Ready() {
		return nil
	}

	var sps, pps []byte
	for _, u := range units {
		switch u.Type.Class() {
		case h264.ClassSPS:
			if sps == nil {
				sps = u.Payload
			}
		case h264.ClassPPS:
			if pps == nil {
				pps = u.Payload
			}
		case h264.ClassOther:
		}
	}
	if len(sps) == 0 || len(pps) == 0 {
		return ErrMissingParameterSets
	}

	c.sps = append([]byte(nil), sps...)
	c.pps = append([]byte(nil), pps...)
	return nil
}

// Ready reports whether both parameter sets are captured.
func (c *ParameterSetCache) Ready() bool {
	return len(c.sps) != 0 && len(c.pps) != 0
}

// SPS returns the captured sequence parameter set.
func (c *ParameterSetCache) SPS() []byte { return c.sps }

// PPS returns the captured picture parameter set.
func (c *ParameterSetCache) PPS() []byte { return c.pps }
