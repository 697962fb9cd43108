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

// Package system samples host resource usage while recording.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mp4rec/pkg/log"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status stores system status.
type Status struct {
	CPUUsage  int `json:"cpuUsage"`
	RAMUsage  int `json:"ramUsage"`
	DiskUsage int `json:"diskUsage"`

	// Free space on the output file system.
	DiskFree string `json:"diskFree"`
}

func (s Status) String() string {
	return fmt.Sprintf("cpu %d%% ram %d%% disk %d%% (%v free)",
		s.CPUUsage, s.RAMUsage, s.DiskUsage, s.DiskFree)
}

// ErrNoSample no cpu sample.
var ErrNoSample = errors.New("no sample")

type (
	cpuFunc  func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc  func() (*mem.VirtualMemoryStat, error)
	diskFunc func(string) (*disk.UsageStat, error)
)

// System samples CPU, RAM and disk usage.
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	path     string
	status   Status
	duration time.Duration

	logger *log.Logger
	mu     sync.Mutex
	o      sync.Once
}

// New returns a System that reports the disk usage of path.
// Each CPU sample is averaged over interval.
func New(path string, interval time.Duration, logger *log.Logger) *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemory,
		disk: disk.Usage,

		path:     path,
		duration: interval,

		logger: logger,
	}
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("cpu usage: %w", err)
	}
	if len(cpuUsage) == 0 {
		return fmt.Errorf("cpu usage: %w", ErrNoSample)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("ram usage: %w", err)
	}
	diskUsage, err := s.disk(s.path)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}

	s.mu.Lock()
	s.status = Status{
		CPUUsage:  int(cpuUsage[0]),
		RAMUsage:  int(ramUsage.UsedPercent),
		DiskUsage: int(diskUsage.UsedPercent),
		DiskFree:  formatBytes(float64(diskUsage.Free)),
	}
	s.mu.Unlock()

	return nil
}

// StatusLoop updates the status until the context is canceled.
// onUpdate is called after every successful update.
func (s *System) StatusLoop(ctx context.Context, onUpdate func(Status)) {
	s.o.Do(func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if err := s.update(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn().Src("system").Msgf("could not update system status: %v", err)
				// Don't spin on persistent errors.
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.duration):
				}
				continue
			}
			if onUpdate != nil {
				onUpdate(s.Status())
			}
		}
	})
}

// Status returns cpu, ram and disk usage.
func (s *System) Status() Status {
	defer s.mu.Unlock()
	s.mu.Lock()
	return s.status
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

func formatBytes(used float64) string {
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}
