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

// Package packager encodes raw frames to H264 and
// packages them into a single track MP4 file.
package packager

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"mp4rec/pkg/log"
	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/encoder/pcm"
	"mp4rec/pkg/video/framerate"
	"mp4rec/pkg/video/h264"
	"mp4rec/pkg/video/mp4muxer"
)

// ErrNoOutput output is nil.
var ErrNoOutput = errors.New("no output")

// State of the muxer. States only move forward.
type State uint8

// States.
const (
	// StateUninitialized no frames have been ingested.
	StateUninitialized State = iota

	// StateEncoderReady the encoder is constructed and the
	// dimensions are fixed. No encoded frame has been received.
	StateEncoderReady

	// StateContainerReady the parameter sets are captured
	// and the container is accepting samples.
	StateContainerReady

	// StateFinalized terminal.
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEncoderReady:
		return "encoderReady"
	case StateContainerReady:
		return "containerReady"
	case StateFinalized:
		return "finalized"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Config of the muxer.
type Config struct {
	Framerate framerate.Framerate

	// BitrateKbps defaults to encoder.DefaultBitrateKbps.
	BitrateKbps int

	// NewEncoder defaults to the I_PCM encoder.
	NewEncoder encoder.Factory

	// Optional.
	Logger  *log.Logger
	Session string
}

// Stats of the recording.
type Stats struct {
	Frames      int // Ingested frames.
	Samples     int
	SyncSamples int
	Skipped     int // Frames that extended the previous sample.
	Ticks       uint64
	Duration    time.Duration
}

// Muxer is the packaging engine. It owns the encoder and the container
// writer. It is not safe for concurrent use, calls must be serialized.
type Muxer struct {
	out           io.WriteSeeker
	rate          framerate.Framerate
	ticksPerFrame uint32
	timescale     uint32
	bitrate       int
	newEncoder    encoder.Factory
	logger        *log.Logger
	session       string

	state     State
	enc       *encoder.Adapter
	params    ParameterSetCache
	container *mp4muxer.Writer

	// Start time of the next sample.
	ticks   uint64
	frames  int
	skipped int

	// First fatal error.
	err error
}

// New returns an uninitialized muxer that writes to out.
// Nothing is written until the first frame is encoded.
func New(out io.WriteSeeker, conf Config) (*Muxer, error) {
	if out == nil {
		return nil, ErrNoOutput
	}
	if !conf.Framerate.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFramerate, conf.Framerate)
	}
	if conf.BitrateKbps <= 0 {
		conf.BitrateKbps = encoder.DefaultBitrateKbps
	}
	if conf.NewEncoder == nil {
		conf.NewEncoder = pcm.New
	}

	tpf, timescale := conf.Framerate.Timing()
	return &Muxer{
		out:           out,
		rate:          conf.Framerate,
		ticksPerFrame: tpf,
		timescale:     timescale,
		bitrate:       conf.BitrateKbps,
		newEncoder:    conf.NewEncoder,
		logger:        conf.Logger,
		session:       conf.Session,
	}, nil
}

// State returns the current state.
func (m *Muxer) State() State {
	return m.state
}

// Err returns the first fatal error, if any.
func (m *Muxer) Err() error {
	return m.err
}

// Stats returns the recording statistics.
func (m *Muxer) Stats() Stats {
	s := Stats{
		Frames:  m.frames,
		Skipped: m.skipped,
		Ticks:   m.ticks,
	}
	if m.container != nil {
		s.Samples = m.container.SampleCount()
		s.SyncSamples = m.container.SyncSampleCount()
	}
	ts := uint64(m.timescale)
	s.Duration = time.Duration(m.ticks/ts)*time.Second +
		time.Duration(m.ticks%ts)*time.Second/time.Duration(ts)
	return s
}

// SetBitrate sets the encoder bitrate. It has no
// effect once the encoder is constructed.
func (m *Muxer) SetBitrate(kbps int) {
	if m.state != StateUninitialized {
		m.logWarn("bitrate change to %d kbps ignored in state %v", kbps, m.state)
		return
	}
	if kbps <= 0 {
		m.logWarn("invalid bitrate ignored: %d", kbps)
		return
	}
	m.bitrate = kbps
}

// InitEncoder constructs the encoder with the given dimensions.
// It is called by the first Ingest if it was not called before.
func (m *Muxer) InitEncoder(width, height int) error {
	switch {
	case m.state == StateFinalized:
		return ErrFinalized
	case m.err != nil:
		return m.err
	case m.state != StateUninitialized:
		want := m.enc.Config()
		if width != want.Width || height != want.Height {
			return &DimensionMismatchError{
				Want: Size{Width: want.Width, Height: want.Height},
				Got:  Size{Width: width, Height: height},
			}
		}
		return nil
	}

	conf := encoder.Config{
		Width:       width,
		Height:      height,
		BitrateKbps: m.bitrate,
		FPS:         m.rate.FPS(),
	}
	enc, err := encoder.NewAdapter(m.newEncoder, conf)
	if err != nil {
		return m.fail(&EncoderInitError{
			Width:       width,
			Height:      height,
			BitrateKbps: m.bitrate,
			Err:         err,
		})
	}
	m.enc = enc
	m.transition(StateEncoderReady)
	m.logger.Info().Src("packager").Session(m.session).
		Msgf("encoder ready: %dx%d %d kbps %v", width, height, m.bitrate, m.rate)
	return nil
}

// Ingest encodes one frame and appends the result to the container.
// The frame data is not retained.
//
// Frame layout errors and dimension mismatches reject only the frame.
// All other errors are fatal and returned by every later call.
func (m *Muxer) Ingest(frame Frame) error {
	if m.state == StateFinalized {
		return ErrFinalized
	}
	if m.err != nil {
		return m.err
	}
	if err := frame.Validate(); err != nil {
		return err
	}

	if err := m.InitEncoder(frame.Width, frame.Height); err != nil {
		return err
	}

	frames, err := m.enc.Encode(frame.Format, frame.Data)
	if err != nil {
		return m.fail(&EncodeError{Err: err})
	}
	m.frames++

	return m.writeFrames(frames)
}

func (m *Muxer) writeFrames(frames []encoder.Bitstream) error {
	for _, bs := range frames {
		if err := m.writeFrame(bs); err != nil {
			return m.fail(err)
		}
	}
	return nil
}

func (m *Muxer) writeFrame(bs encoder.Bitstream) error {
	layers, err := splitBitstream(bs)
	if err != nil {
		return &BitstreamError{Err: err}
	}

	if m.state == StateEncoderReady {
		if err := m.openContainer(layers); err != nil {
			return err
		}
	}

	var units []h264.NALU
	if len(layers) != 0 {
		units = layers[0]
	}
	sample := BuildSample(units, bs.FrameType, m.ticks, m.ticksPerFrame)

	if bs.FrameType == encoder.FrameTypeSkip || len(sample.Payload) == 0 {
		if m.container.SampleCount() == 0 {
			return &BitstreamError{Err: ErrNoPictureData}
		}
		if err := m.container.ExtendLastSample(m.ticksPerFrame); err != nil {
			return fmt.Errorf("extend sample: %w", err)
		}
		m.skipped++
	} else if err := m.container.WriteSample(sample); err != nil {
		return &ContainerWriteError{Op: "write sample", Err: err}
	}

	m.ticks += uint64(m.ticksPerFrame)
	return nil
}

// openContainer captures the parameter sets from every layer
// and writes the container header.
func (m *Muxer) openContainer(layers [][]h264.NALU) error {
	var units []h264.NALU
	for _, l := range layers {
		units = append(units, l...)
	}
	if err := m.params.Capture(units); err != nil {
		return err
	}

	conf := m.enc.Config()
	container, err := mp4muxer.New(m.out, mp4muxer.Config{
		Timescale: m.timescale,
		Width:     conf.Width,
		Height:    conf.Height,
		SPS:       m.params.SPS(),
		PPS:       m.params.PPS(),
	})
	if err != nil {
		if errors.Is(err, mp4muxer.ErrInvalidSPS) {
			return &BitstreamError{Err: err}
		}
		return &ContainerWriteError{Op: "open", Err: err}
	}
	m.container = container
	m.transition(StateContainerReady)

	m.logger.Info().Src("packager").Session(m.session).
		Msgf("container ready: SPS %d bytes, PPS %d bytes, timescale %d",
			len(m.params.SPS()), len(m.params.PPS()), m.timescale)
	return nil
}

// Finalize flushes the encoder and closes the container. Only the
// first call has an effect, later calls return nil. The output
// itself is not closed.
func (m *Muxer) Finalize() error {
	switch m.state {
	case StateFinalized:
		return nil
	case StateUninitialized:
		m.transition(StateFinalized)
		return nil
	case StateEncoderReady, StateContainerReady:
	}

	var err error
	if m.err == nil {
		frames, ferr := m.enc.Flush()
		if ferr != nil {
			err = m.fail(&EncodeError{Err: ferr})
		} else {
			err = m.writeFrames(frames)
		}
	}

	if m.container != nil {
		if cerr := m.container.Close(); cerr != nil && err == nil {
			err = m.fail(&ContainerWriteError{Op: "close", Err: cerr})
		}
	}
	if cerr := m.enc.Close(); cerr != nil {
		m.logWarn("close encoder: %v", cerr)
	}

	m.transition(StateFinalized)
	if err == nil {
		s := m.Stats()
		m.logger.Info().Src("packager").Session(m.session).
			Msgf("finalized: %d samples, %d sync, %v", s.Samples, s.SyncSamples, s.Duration)
	}
	return err
}

func (m *Muxer) transition(to State) {
	m.logger.Debug().Src("packager").Session(m.session).
		Msgf("state %v -> %v", m.state, to)
	m.state = to
}

// fail stores the first fatal error.
func (m *Muxer) fail(err error) error {
	if m.err == nil {
		m.err = err
		m.logger.Error().Src("packager").Session(m.session).Msgf("%v", err)
	}
	return err
}

func (m *Muxer) logWarn(format string, v ...interface{}) {
	m.logger.Warn().Src("packager").Session(m.session).Msgf(format, v...)
}
