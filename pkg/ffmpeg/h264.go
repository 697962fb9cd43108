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

package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"mp4rec/pkg/log"
	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/h264"
)

// Errors.
var (
	ErrClosed      = errors.New("encoder closed")
	ErrPictureSize = errors.New("picture size does not match encoder")
	ErrNoSeqHeader = errors.New("frame before sequence header")
)

// FlushTimeout is how long Flush waits for ffmpeg to exit.
var FlushTimeout = 10 * time.Second

// H264Encoder encodes pictures with libx264 in a ffmpeg subprocess.
//
// Raw 4:2:0 pictures are written to stdin. The encoded stream is read
// from stdout as FLV by a separate goroutine, so ffmpeg can buffer
// pictures without blocking Encode.
type H264Encoder struct {
	conf    encoder.Config
	logger  *log.Logger
	session string

	stdin  io.WriteCloser
	cancel context.CancelFunc

	procDone chan struct{}
	procErr  error

	readDone chan struct{}
	mu       sync.Mutex
	ready    []encoder.Bitstream
	readErr  error

	buf     []byte
	pending int
	flushed bool
	closed  bool
}

// H264Encoder returns an encoder factory. Log messages from
// ffmpeg and the encoder are tagged with the session.
func (f *FFMPEG) H264Encoder(logger *log.Logger, session string) encoder.Factory {
	return func(conf encoder.Config) (encoder.Encoder, error) {
		return f.newH264Encoder(conf, logger, session)
	}
}

func (f *FFMPEG) newH264Encoder(
	conf encoder.Config,
	logger *log.Logger,
	session string,
) (*H264Encoder, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	cmd := f.command(EncoderArgs(conf)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin: %w", err)
	}
	stdoutR, stdoutW := io.Pipe()
	cmd.Stdout = stdoutW

	ctx, cancel := context.WithCancel(context.Background())
	e := &H264Encoder{
		conf:     conf,
		logger:   logger,
		session:  session,
		stdin:    stdin,
		cancel:   cancel,
		procDone: make(chan struct{}),
		readDone: make(chan struct{}),
	}

	process := NewProcess(cmd).StderrLogger(func(msg string) {
		logger.Error().Src("ffmpeg").Session(session).Msg(msg)
	})
	go func() {
		e.procErr = process.Start(ctx)
		stdoutW.Close()
		close(e.procDone)
	}()
	go e.read(stdoutR)

	logger.Info().Src("ffmpeg").Session(session).
		Msgf("libx264 encoder started: %dx%d %dkbps", conf.Width, conf.Height, conf.BitrateKbps)
	return e, nil
}

// EncoderArgs returns the ffmpeg arguments for a config.
func EncoderArgs(conf encoder.Config) []string {
	fps := conf.FPS
	if fps <= 0 {
		fps = 30
	}
	rate := strconv.FormatFloat(fps, 'f', -1, 64)
	gop := strconv.Itoa(int(math.Round(fps * 2)))
	bitrate := strconv.Itoa(conf.BitrateKbps) + "k"

	return []string{
		"-hide_banner", "-loglevel", "error",
		"-probesize", "32", "-analyzeduration", "0",
		"-f", "rawvideo", "-pix_fmt", "yuv420p",
		"-s", strconv.Itoa(conf.Width) + "x" + strconv.Itoa(conf.Height),
		"-r", rate,
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "ultrafast", "-tune", "zerolatency",
		"-profile:v", "baseline",
		"-b:v", bitrate, "-maxrate", bitrate, "-bufsize", bitrate,
		"-g", gop, "-bf", "0",
		"-fps_mode", "passthrough",
		"-an",
		"-f", "flv", "-flush_packets", "1",
		"pipe:1",
	}
}

// Encode implements encoder.Encoder.
func (e *H264Encoder) Encode(pic *encoder.Picture) ([]encoder.Bitstream, error) {
	if e.closed || e.flushed {
		return nil, ErrClosed
	}
	if pic.Width != e.conf.Width || pic.Height != e.conf.Height {
		return nil, fmt.Errorf("%w: %dx%d", ErrPictureSize, pic.Width, pic.Height)
	}

	e.buf = append(e.buf[:0], pic.Y...)
	e.buf = append(e.buf, pic.Cb...)
	e.buf = append(e.buf, pic.Cr...)

	if _, err := e.stdin.Write(e.buf); err != nil {
		// The process is gone, its error is more useful.
		<-e.procDone
		if err2 := e.takeErr(); err2 != nil {
			return nil, err2
		}
		if e.procErr != nil {
			return nil, fmt.Errorf("process: %w", e.procErr)
		}
		return nil, fmt.Errorf("write: %w", err)
	}
	e.pending++

	return e.take()
}

// Flush implements encoder.Encoder. Stdin is closed and the
// remaining frames are read until ffmpeg exits.
func (e *H264Encoder) Flush() ([]encoder.Bitstream, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.flushed {
		return nil, nil
	}
	e.flushed = true
	e.stdin.Close()

	select {
	case <-e.readDone:
	case <-time.After(FlushTimeout):
		e.cancel()
		<-e.readDone
	}
	<-e.procDone

	frames, err := e.take()
	if err != nil {
		return nil, err
	}
	if e.procErr != nil {
		return nil, fmt.Errorf("process: %w", e.procErr)
	}
	if e.pending != 0 {
		e.logger.Warn().Src("ffmpeg").Session(e.session).
			Msgf("%d pictures were not encoded", e.pending)
	}
	return frames, nil
}

// Close implements encoder.Encoder. The process is interrupted
// if the encoder was not flushed.
func (e *H264Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.flushed {
		e.stdin.Close()
		e.cancel()
	}
	<-e.procDone
	<-e.readDone
	e.cancel()
	return nil
}

func (e *H264Encoder) take() ([]encoder.Bitstream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return nil, e.readErr
	}
	frames := e.ready
	e.ready = nil
	e.pending -= len(frames)
	return frames, nil
}

func (e *H264Encoder) takeErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readErr
}

func (e *H264Encoder) read(r *io.PipeReader) {
	defer close(e.readDone)

	err := e.readStream(r)
	if err == nil {
		return
	}

	e.mu.Lock()
	e.readErr = fmt.Errorf("read: %w", err)
	e.mu.Unlock()

	// Stop the process and unblock its writes.
	e.cancel()
	r.CloseWithError(err)
}

func (e *H264Encoder) readStream(r io.Reader) error {
	if err := readFLVHeader(r); err != nil {
		if errors.Is(err, io.EOF) {
			// The process exited without output.
			return nil
		}
		return err
	}

	var conf *avcConfig
	for {
		tag, err := readTag(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		video, ok, err := parseVideoTag(tag)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch video.packetType {
		case avcPacketTypeSeqHeader:
			c, err := parseAVCSeqHeader(video.data)
			if err != nil {
				return err
			}
			conf = &c
		case avcPacketTypeNALU:
			if conf == nil {
				return ErrNoSeqHeader
			}
			frame, err := newBitstream(video, *conf)
			if err != nil {
				return err
			}
			e.mu.Lock()
			e.ready = append(e.ready, frame)
			e.mu.Unlock()
		case avcPacketTypeEOS:
		}
	}
}

// newBitstream converts a AVCC video packet to Annex-B. The parameter
// sets from the sequence header are prepended to IDR frames that
// don't carry them.
func newBitstream(video videoTag, conf avcConfig) (encoder.Bitstream, error) {
	nalus, err := h264.AVCCUnmarshal(video.data, conf.lengthSize)
	if err != nil {
		return encoder.Bitstream{}, err
	}

	frameType := encoder.FrameTypeP
	hasSPS := false
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.TypeOf(nalu[0]) {
		case h264.NALUTypeIDR:
			frameType = encoder.FrameTypeIDR
		case h264.NALUTypeSPS:
			hasSPS = true
		}
	}
	switch {
	case len(nalus) == 0:
		frameType = encoder.FrameTypeSkip
	case video.keyframe && frameType == encoder.FrameTypeP:
		frameType = encoder.FrameTypeI
	}

	if frameType == encoder.FrameTypeIDR && !hasSPS {
		sets := make([][]byte, 0, len(conf.sps)+len(conf.pps)+len(nalus))
		sets = append(sets, conf.sps...)
		sets = append(sets, conf.pps...)
		nalus = append(sets, nalus...)
	}

	return encoder.Bitstream{
		Layers:    [][]byte{h264.AnnexBMarshal(nalus)},
		FrameType: frameType,
	}, nil
}
