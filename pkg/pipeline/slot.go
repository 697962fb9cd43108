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
	"sync"
	"sync/atomic"

	"mp4rec/pkg/packager"
)

// Slot holds the latest frame. The producer overwrites it in place and
// sends a notification that carries no payload.
//
// Notifications coalesce, a frame that is overwritten before the
// consumer loads it is lost. The sequence number returned by Load lets
// the consumer skip a frame it has already seen and count lost frames.
type Slot struct {
	mu    sync.RWMutex
	frame packager.Frame
	seq   uint64

	notify   chan struct{}
	shutdown chan struct{}
	once     sync.Once

	dropped atomic.Uint64
	loaded  uint64 // Last sequence number loaded by the consumer.
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{
		notify:   make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
}

// Push implements Handoff. The frame data is copied into the slot.
func (s *Slot) Push(_ context.Context, frame packager.Frame) error {
	select {
	case <-s.shutdown:
		return ErrShutdown
	default:
	}

	s.mu.Lock()
	s.frame.Width = frame.Width
	s.frame.Height = frame.Height
	s.frame.Format = frame.Format
	s.frame.Data = append(s.frame.Data[:0], frame.Data...)
	s.seq++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Notify returns the notification channel.
func (s *Slot) Notify() <-chan struct{} {
	return s.notify
}

// Load copies the latest frame into buf and returns it with its
// sequence number. Sequence number 0 means the slot is empty.
func (s *Slot) Load(buf []byte) (packager.Frame, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frame := s.frame
	frame.Data = append(buf[:0], s.frame.Data...)
	return frame, s.seq
}

// next loads the latest frame if it is new. Only the consumer calls it.
func (s *Slot) next(buf []byte) (packager.Frame, bool) {
	frame, seq := s.Load(buf)
	if seq == 0 || seq == s.loaded {
		return frame, false
	}
	if lost := seq - s.loaded - 1; lost > 0 {
		s.dropped.Add(lost)
	}
	s.loaded = seq
	return frame, true
}

// Shutdown implements Handoff.
func (s *Slot) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// Dropped implements Handoff. Only frames lost before
// the consumer loaded a newer one are counted.
func (s *Slot) Dropped() uint64 {
	return s.dropped.Load()
}
