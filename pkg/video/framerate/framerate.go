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

// Package framerate maps framerate selectors to integer sample timing.
package framerate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type kind uint8

const (
	kindWhole kind = iota
	kindNTSC
	kindPAL
	kindTwentyFour
	kindThirty
	kindSixty
	kindCustom
)

// Framerate is one of a closed set of framerate variants.
// The zero value is Whole(0) and is not Valid.
type Framerate struct {
	kind          kind
	whole         uint32
	ticksPerFrame uint32
	timescale     uint32
}

// Predefined framerates.
var (
	// NTSC is the 30000/1001 broadcast rate. The timescale is chosen so
	// every frame lasts exactly 100 ticks.
	NTSC = Framerate{kind: kindNTSC}

	// PAL is 25 fps.
	PAL = Framerate{kind: kindPAL}

	// TwentyFour is 24 fps.
	TwentyFour = Framerate{kind: kindTwentyFour}

	// Thirty is 30 fps, on the 15360 timescale ffmpeg uses.
	Thirty = Framerate{kind: kindThirty}

	// Sixty is 60 fps, on the 15360 timescale ffmpeg uses.
	Sixty = Framerate{kind: kindSixty}
)

// maxWhole is the largest n where the Whole(n) timescale fits in 32 bits.
const maxWhole = math.MaxUint32 / 1000

// Whole returns a whole numbered framerate. The timescale is n*1000.
// Rates above maxWhole are not valid.
func Whole(n uint32) Framerate {
	return Framerate{kind: kindWhole, whole: n}
}

// Custom returns a framerate with explicit timing.
func Custom(ticksPerFrame, timescale uint32) Framerate {
	return Framerate{
		kind:          kindCustom,
		ticksPerFrame: ticksPerFrame,
		timescale:     timescale,
	}
}

// TicksPerFrame returns the duration of one sample in timescale units.
func (f Framerate) TicksPerFrame() uint32 {
	switch f.kind {
	case kindNTSC:
		return 100
	case kindPAL, kindTwentyFour, kindWhole:
		return 1000
	case kindThirty:
		return 512
	case kindSixty:
		return 256
	case kindCustom:
		return f.ticksPerFrame
	}
	return 0
}

// Timescale returns the number of ticks per second.
func (f Framerate) Timescale() uint32 {
	switch f.kind {
	case kindNTSC:
		return 2997
	case kindPAL:
		return 25000
	case kindTwentyFour:
		return 24000
	case kindThirty, kindSixty:
		return 15360
	case kindWhole:
		return f.whole * 1000
	case kindCustom:
		return f.timescale
	}
	return 0
}

// Timing returns ticks per frame and timescale.
func (f Framerate) Timing() (uint32, uint32) {
	return f.TicksPerFrame(), f.Timescale()
}

// Valid reports whether both ticks per frame and timescale are non-zero.
func (f Framerate) Valid() bool {
	if f.kind == kindWhole && f.whole > maxWhole {
		return false
	}
	return f.TicksPerFrame() != 0 && f.Timescale() != 0
}

// FPS returns frames per second.
func (f Framerate) FPS() float64 {
	if f.TicksPerFrame() == 0 {
		return 0
	}
	return float64(f.Timescale()) / float64(f.TicksPerFrame())
}

func (f Framerate) String() string {
	switch f.kind {
	case kindNTSC:
		return "ntsc"
	case kindPAL:
		return "pal"
	case kindTwentyFour:
		return "24"
	case kindThirty:
		return "30"
	case kindSixty:
		return "60"
	case kindWhole:
		return strconv.FormatUint(uint64(f.whole), 10)
	}
	return fmt.Sprintf("custom:%d/%d", f.ticksPerFrame, f.timescale)
}

// ErrInvalid invalid framerate.
var ErrInvalid = errors.New("invalid framerate")

// Parse parses a framerate from a config string.
//
//	"ntsc", "29.97"       NTSC
//	"pal", "25"           PAL
//	"24", "30", "60"      TwentyFour, Thirty, Sixty
//	"<n>"                 Whole(n)
//	"custom:<tpf>/<ts>"   Custom(tpf, ts)
func Parse(s string) (Framerate, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "ntsc", "29.97":
		return NTSC, nil
	case "pal", "25":
		return PAL, nil
	case "24":
		return TwentyFour, nil
	case "30":
		return Thirty, nil
	case "60":
		return Sixty, nil
	}

	if rest, ok := strings.CutPrefix(s, "custom:"); ok {
		tpfStr, tsStr, found := strings.Cut(rest, "/")
		if !found {
			return Framerate{}, fmt.Errorf("%w: %q: missing '/'", ErrInvalid, s)
		}
		tpf, err := strconv.ParseUint(tpfStr, 10, 32)
		if err != nil {
			return Framerate{}, fmt.Errorf("%w: ticks per frame: %v", ErrInvalid, err)
		}
		ts, err := strconv.ParseUint(tsStr, 10, 32)
		if err != nil {
			return Framerate{}, fmt.Errorf("%w: timescale: %v", ErrInvalid, err)
		}
		f := Custom(uint32(tpf), uint32(ts))
		if !f.Valid() {
			return Framerate{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		return f, nil
	}

	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 || n > maxWhole {
		return Framerate{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return Whole(uint32(n)), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Framerate) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (f Framerate) MarshalYAML() (interface{}, error) {
	return f.String(), nil
}
