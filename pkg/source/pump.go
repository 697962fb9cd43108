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

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mp4rec/pkg/effect"
	"mp4rec/pkg/log"
	"mp4rec/pkg/pipeline"

	"github.com/q191201771/naza/pkg/mock"
)

// Clock is used for pacing.
var Clock = mock.NewStdClock()

// PumpConfig configures Pump.
type PumpConfig struct {
	// Interval between frames. Zero pushes frames as fast
	// as the handoff accepts them.
	Interval time.Duration

	// Effect is applied to every frame, nil means passthrough.
	Effect *effect.Effect

	// SwitchEffect changes the effect. The new effect is
	// primed with the output of the current one.
	SwitchEffect <-chan effect.Kind

	Logger  *log.Logger
	Session string
}

// Pump reads frames from the source and pushes them to the handoff
// until the source ends, the handoff is shut down or the context is
// canceled. The handoff is always shut down when Pump returns.
//
// Frames are paced against the time of the first frame. A frame that
// is late is pushed immediately.
func Pump(ctx context.Context, src Source, h pipeline.Handoff, conf PumpConfig) (int, error) {
	defer h.Shutdown()

	fx := conf.Effect
	if fx == nil {
		fx = effect.New(effect.Passthrough)
	}

	var start time.Time
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case kind := <-conf.SwitchEffect:
			if kind != fx.Kind() {
				conf.Logger.Info().Src("source").Session(conf.Session).
					Msgf("effect %v -> %v", fx.Kind(), kind)
				fx = fx.Switch(kind)
			}
		default:
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read frame %d: %w", n, err)
		}

		frame, err = fx.Apply(frame)
		if err != nil {
			return n, fmt.Errorf("effect %v: %w", fx.Kind(), err)
		}

		if conf.Interval > 0 {
			if n == 0 {
				start = Clock.Now()
			} else if d := start.Add(time.Duration(n) * conf.Interval).Sub(Clock.Now()); d > 0 {
				Clock.Sleep(d)
			}
		}

		err = h.Push(ctx, frame)
		if errors.Is(err, pipeline.ErrShutdown) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
