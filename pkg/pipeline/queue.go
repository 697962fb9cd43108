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

// Package pipeline hands frames from a producer to the packager.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"mp4rec/pkg/packager"
)

// DefaultQueueSize is the default queue capacity.
const DefaultQueueSize = 2

// ErrShutdown the handoff is shut down.
var ErrShutdown = errors.New("shutdown")

// Policy decides what Push does when the handoff is full.
type Policy uint8

// Policies.
const (
	// DropOldest discards the oldest queued frame.
	DropOldest Policy = iota

	// Block waits for the consumer.
	Block

	// Latest overwrites a single slot, see Slot.
	Latest
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "dropOldest"
	case Block:
		return "block"
	case Latest:
		return "latest"
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ErrUnknownPolicy unknown policy.
var ErrUnknownPolicy = errors.New("unknown queue policy")

// ParsePolicy parses "dropOldest", "block" or "latest".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "dropoldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	case "latest":
		return Latest, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Handoff is the producer side of a frame handoff.
type Handoff interface {
	// Push copies the frame into the handoff.
	Push(context.Context, packager.Frame) error

	// Shutdown signals the consumer to finalize. Safe to call
	// more than once and from any goroutine.
	Shutdown()

	// Dropped returns the number of frames that never reached the consumer.
	Dropped() uint64
}

// New returns a Slot for the Latest policy and a Queue otherwise.
func New(size int, policy Policy) Handoff {
	if policy == Latest {
		return NewSlot()
	}
	return NewQueue(size, policy)
}

// Queue is a bounded queue of owned frame copies.
type Queue struct {
	frames chan packager.Frame
	policy Policy

	shutdown chan struct{}
	once     sync.Once

	// Serializes DropOldest pushes.
	mu      sync.Mutex
	dropped atomic.Uint64
}

// NewQueue returns a queue with the given capacity.
func NewQueue(size int, policy Policy) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		frames:   make(chan packager.Frame, size),
		policy:   policy,
		shutdown: make(chan struct{}),
	}
}

// Push implements Handoff.
func (q *Queue) Push(ctx context.Context, frame packager.Frame) error {
	select {
	case <-q.shutdown:
		return ErrShutdown
	default:
	}

	frame.Data = append([]byte(nil), frame.Data...)

	if q.policy == Block {
		select {
		case q.frames <- frame:
			return nil
		case <-q.shutdown:
			return ErrShutdown
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case q.frames <- frame:
			return nil
		default:
		}
		select {
		case <-q.frames:
			q.dropped.Add(1)
		default:
		}
	}
}

// Shutdown implements Handoff.
func (q *Queue) Shutdown() {
	q.once.Do(func() { close(q.shutdown) })
}

// Dropped implements Handoff.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.frames)
}
