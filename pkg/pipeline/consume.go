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

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"mp4rec/pkg/log"
	"mp4rec/pkg/packager"
)

// Ingester is implemented by packager.Muxer.
type Ingester interface {
	Ingest(packager.Frame) error
	Finalize() error
}

// ErrUnknownHandoff unknown handoff.
var ErrUnknownHandoff = errors.New("unknown handoff")

// Consume ingests frames in order until the handoff is shut down or the
// context is canceled. Frames that are already queued are drained, then
// the ingester is finalized exactly once.
//
// Frames with an invalid layout or dimensions are logged and skipped.
// Any other ingest error shuts down the handoff and is returned.
func Consume(ctx context.Context, h Handoff, m Ingester, logger *log.Logger) error {
	c := &consumer{m: m, handoff: h, logger: logger}

	switch h := h.(type) {
	case *Queue:
		c.consumeQueue(ctx, h)
	case *Slot:
		c.consumeSlot(ctx, h)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownHandoff, h)
	}

	err := m.Finalize()
	if c.err != nil {
		return c.err
	}
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

type consumer struct {
	m       Ingester
	handoff Handoff
	logger  *log.Logger
	err     error
}

func (c *consumer) ingest(frame packager.Frame) {
	if c.err != nil {
		return
	}
	err := c.m.Ingest(frame)
	if err == nil {
		return
	}

	var dimErr *packager.DimensionMismatchError
	if errors.Is(err, packager.ErrFrameLayout) || errors.As(err, &dimErr) {
		c.logger.Warn().Src("pipeline").Msgf("frame rejected: %v", err)
		return
	}
	c.err = err
	c.handoff.Shutdown()
}

func (c *consumer) consumeQueue(ctx context.Context, q *Queue) {
	for c.err == nil {
		select {
		case frame := <-q.frames:
			c.ingest(frame)
			continue
		case <-q.shutdown:
		case <-ctx.Done():
		}
		break
	}

	// Drain.
	for c.err == nil {
		select {
		case frame := <-q.frames:
			c.ingest(frame)
		default:
			return
		}
	}
}

func (c *consumer) consumeSlot(ctx context.Context, s *Slot) {
	var buf []byte
	load := func() {
		frame, ok := s.next(buf)
		buf = frame.Data
		if ok {
			c.ingest(frame)
		}
	}

	for c.err == nil {
		select {
		case <-s.notify:
			load()
			continue
		case <-s.shutdown:
		case <-ctx.Done():
		}
		break
	}

	// The final frame may have raced with the shutdown.
	load()
}
