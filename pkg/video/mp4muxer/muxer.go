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

// Package mp4muxer writes a single H264 track into a progressive MP4 file.
//
// Samples are appended to the mdat box as they arrive, the moov box is
// written at the end and the mdat size is patched in place.
package mp4muxer

import (
	"errors"
	"fmt"
	"io"
	"math"

	"mp4rec/pkg/video/h264"
	"mp4rec/pkg/video/mp4"
)

// TrackID of the video track.
const TrackID = 1

// Errors.
var (
	ErrClosed                 = errors.New("writer closed")
	ErrInvalidSPS             = errors.New("invalid SPS")
	ErrInvalidTimescale       = errors.New("invalid timescale")
	ErrDiscontinuity          = errors.New("sample start time does not match end of track")
	ErrNoSamples              = errors.New("no samples")
	ErrEmptySample            = errors.New("empty sample")
	ErrDurationOverflow       = errors.New("sample duration overflow")
	errUnexpectedFilePosition = errors.New("unexpected file position")
)

// Sample is one encoded frame in the track.
type Sample struct {
	// StartTime and Duration are in track timescale ticks.
	StartTime uint64
	Duration  uint32
	IsSync    bool

	// Payload is length prefixed NALUs.
	Payload []byte
}

// Config of the video track.
type Config struct {
	Timescale uint32
	Width     int
	Height    int
	SPS       []byte
	PPS       []byte
}

// Writer is a progressive MP4 writer with one video track.
type Writer struct {
	out  io.WriteSeeker
	conf Config
	sps  h264.SPS

	mdatOffset int64  // Position of the mdat header.
	pos        uint64 // Current end of the file.
	mdatSize   uint64

	endTime uint64

	stts         []mp4.SttsEntry
	stss         []uint32
	stsz         []uint32
	chunkOffsets []uint64
	chunkSamples []uint32

	closed bool
}

var ftyp = &mp4.Ftyp{
	MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
	MinorVersion: 512,
	CompatibleBrands: [][4]byte{
		{'i', 's', 'o', 'm'},
		{'i', 's', 'o', '2'},
		{'a', 'v', 'c', '1'},
		{'m', 'p', '4', '1'},
	},
}

// New writes the file header and returns a writer
// that is ready to accept samples.
func New(out io.WriteSeeker, conf Config) (*Writer, error) {
	if conf.Timescale == 0 {
		return nil, ErrInvalidTimescale
	}
	if len(conf.SPS) < 4 || len(conf.PPS) == 0 {
		return nil, ErrInvalidSPS
	}

	w := &Writer{
		out:  out,
		conf: conf,
	}
	// The avcC profile fields are copied from the raw SPS,
	// the parsed SPS only provides the chroma fields and dimensions.
	if err := w.sps.Unmarshal(conf.SPS); err != nil {
		w.sps = h264.SPS{ChromaFormatIdc: 1}
	}
	if w.conf.Width == 0 || w.conf.Height == 0 {
		w.conf.Width = w.sps.Width()
		w.conf.Height = w.sps.Height()
	}

	start, err := out.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	w.pos = uint64(start)

	header := mp4.Boxes{Box: ftyp}
	buf, err := header.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshal ftyp: %w", err)
	}
	if err := w.write(buf); err != nil {
		return nil, fmt.Errorf("write ftyp: %w", err)
	}

	w.mdatOffset = int64(w.pos)
	if err := w.write(mp4.MdatHeader(0)); err != nil {
		return nil, fmt.Errorf("write mdat header: %w", err)
	}
	return w, nil
}

func (w *Writer) write(p []byte) error {
	n, err := w.out.Write(p)
	w.pos += uint64(n)
	return err
}

// WriteSample appends a sample to the track.
// A sync sample starts a new chunk.
func (w *Writer) WriteSample(s Sample) error {
	if w.closed {
		return ErrClosed
	}
	if len(s.Payload) == 0 {
		return ErrEmptySample
	}
	if s.StartTime != w.endTime {
		return fmt.Errorf("%w: start %d, end %d", ErrDiscontinuity, s.StartTime, w.endTime)
	}

	offset := w.pos
	if err := w.write(s.Payload); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	w.mdatSize += uint64(len(s.Payload))

	if s.IsSync || len(w.chunkOffsets) == 0 {
		w.chunkOffsets = append(w.chunkOffsets, offset)
		w.chunkSamples = append(w.chunkSamples, 1)
	} else {
		w.chunkSamples[len(w.chunkSamples)-1]++
	}

	w.stsz = append(w.stsz, uint32(len(s.Payload)))
	if s.IsSync {
		w.stss = append(w.stss, uint32(len(w.stsz)))
	}
	w.appendStts(s.Duration)
	w.endTime += uint64(s.Duration)
	return nil
}

func (w *Writer) appendStts(delta uint32) {
	if n := len(w.stts); n > 0 && w.stts[n-1].SampleDelta == delta {
		w.stts[n-1].SampleCount++
		return
	}
	w.stts = append(w.stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: delta})
}

// ExtendLastSample adds ticks to the duration of the last sample.
func (w *Writer) ExtendLastSample(ticks uint32) error {
	if w.closed {
		return ErrClosed
	}
	n := len(w.stts)
	if n == 0 {
		return ErrNoSamples
	}

	last := &w.stts[n-1]
	delta := uint64(last.SampleDelta) + uint64(ticks)
	if delta > math.MaxUint32 {
		return ErrDurationOverflow
	}
	if last.SampleCount == 1 {
		last.SampleDelta = uint32(delta)
		// Merge with the previous run if they now match.
		if n > 1 && w.stts[n-2].SampleDelta == last.SampleDelta {
			w.stts[n-2].SampleCount++
			w.stts = w.stts[:n-1]
		}
	} else {
		last.SampleCount--
		w.stts = append(w.stts, mp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(delta)})
	}
	w.endTime += uint64(ticks)
	return nil
}

// SampleCount returns the number of samples written.
func (w *Writer) SampleCount() int { return len(w.stsz) }

// SyncSampleCount returns the number of sync samples written.
func (w *Writer) SyncSampleCount() int { return len(w.stss) }

// Duration returns the track duration in timescale ticks.
func (w *Writer) Duration() uint64 { return w.endTime }

// Close writes the moov box and patches the mdat size.
// The underlying writer is not closed. Calling Close
// more than once is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	moov := w.generateMoov()
	buf, err := moov.Bytes()
	if err != nil {
		return fmt.Errorf("marshal moov: %w", err)
	}
	if err := w.write(buf); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}

	if _, err := w.out.Seek(w.mdatOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek mdat: %w", err)
	}
	if _, err := w.out.Write(mp4.MdatHeader(w.mdatSize)); err != nil {
		return fmt.Errorf("patch mdat size: %w", err)
	}
	end, err := w.out.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	if uint64(end) != w.pos {
		return fmt.Errorf("%w: %d, expected %d", errUnexpectedFilePosition, end, w.pos)
	}
	return nil
}

func (w *Writer) generateMoov() mp4.Boxes {
	/*
	   moov
	   - mvhd
	   - trak
	*/

	version := uint8(0)
	if w.endTime > math.MaxUint32 {
		version = 1
	}

	return mp4.Boxes{
		Box: &mp4.Moov{},
		Children: []mp4.Boxes{
			{Box: &mp4.Mvhd{
				FullBox:     mp4.FullBox{Version: version},
				Timescale:   w.conf.Timescale,
				Duration:    w.endTime,
				Rate:        0x00010000,
				Volume:      0x0100,
				Matrix:      mp4.IdentityMatrix,
				NextTrackID: TrackID + 1,
			}},
			w.generateTrak(version),
		},
	}
}

func (w *Writer) generateTrak(version uint8) mp4.Boxes {
	/*
	   trak
	   - tkhd
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/

	return mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox: mp4.FullBox{
					Version: version,
					Flags:   [3]byte{0, 0, mp4.TkhdTrackEnabled | mp4.TkhdTrackInMovie},
				},
				TrackID:  TrackID,
				Duration: w.endTime,
				Matrix:   mp4.IdentityMatrix,
				Width:    uint32(w.conf.Width) << 16,
				Height:   uint32(w.conf.Height) << 16,
			}},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						FullBox:   mp4.FullBox{Version: version},
						Timescale: w.conf.Timescale,
						Duration:  w.endTime,
						Language:  [3]byte{'u', 'n', 'd'},
					}},
					{Box: &mp4.Hdlr{
						HandlerType: [4]byte{'v', 'i', 'd', 'e'},
						Name:        "VideoHandler",
					}},
					w.generateMinf(),
				},
			},
		},
	}
}

func (w *Writer) generateMinf() mp4.Boxes {
	/*
	   minf
	   - vmhd
	   - dinf
	     - dref
	       - url
	   - stbl
	     - stsd
	     - stts
	     - stss
	     - stsc
	     - stsz
	     - stco | co64
	*/

	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			w.generateStsd(),
			{Box: &mp4.Stts{Entries: w.stts}},
			{Box: &mp4.Stss{SampleNumbers: w.stss}},
			{Box: &mp4.Stsc{Entries: generateStsc(w.chunkSamples)}},
			{Box: &mp4.Stsz{
				SampleCount: uint32(len(w.stsz)),
				EntrySizes:  w.stsz,
			}},
			chunkOffsetBox(w.chunkOffsets),
		},
	}

	return mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			{Box: &mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}},
			{
				Box: &mp4.Dinf{},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Dref{EntryCount: 1},
						Children: []mp4.Boxes{
							{Box: &mp4.URL{
								FullBox: mp4.FullBox{Flags: [3]byte{0, 0, mp4.URLSelfContained}},
							}},
						},
					},
				},
			},
			stbl,
		},
	}
}

func (w *Writer) generateStsd() mp4.Boxes {
	/*
	   - stsd
	     - avc1
	       - avcC
	*/

	return mp4.Boxes{
		Box: &mp4.Stsd{EntryCount: 1},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Avc1{
					DataReferenceIndex: 1,
					Width:              uint16(w.conf.Width),
					Height:             uint16(w.conf.Height),
					Horizresolution:    72 << 16,
					Vertresolution:     72 << 16,
					FrameCount:         1,
					Depth:              24,
				},
				Children: []mp4.Boxes{
					{Box: &mp4.AvcC{
						Profile:              w.conf.SPS[1],
						ProfileCompatibility: w.conf.SPS[2],
						Level:                w.conf.SPS[3],
						LengthSizeMinusOne:   3,
						SPS:                  [][]byte{w.conf.SPS},
						PPS:                  [][]byte{w.conf.PPS},
						ChromaFormat:         uint8(w.sps.ChromaFormatIdc),
						BitDepthLumaMinus8:   uint8(w.sps.BitDepthLumaMinus8),
						BitDepthChromaMinus8: uint8(w.sps.BitDepthChromaMinus8),
					}},
				},
			},
		},
	}
}

// generateStsc run-length encodes the number of samples in each chunk.
func generateStsc(chunkSamples []uint32) []mp4.StscEntry {
	var entries []mp4.StscEntry
	for i, n := range chunkSamples {
		if len(entries) > 0 && entries[len(entries)-1].SamplesPerChunk == n {
			continue
		}
		entries = append(entries, mp4.StscEntry{
			FirstChunk:             uint32(i + 1),
			SamplesPerChunk:        n,
			SampleDescriptionIndex: 1,
		})
	}
	return entries
}

// chunkOffsetBox returns a stco box, or a co64
// box if any offset does not fit in 32 bits.
func chunkOffsetBox(offsets []uint64) mp4.Boxes {
	for _, offset := range offsets {
		if offset > math.MaxUint32 {
			return mp4.Boxes{Box: &mp4.Co64{ChunkOffsets: offsets}}
		}
	}

	stco := make([]uint32, len(offsets))
	for i, offset := range offsets {
		stco[i] = uint32(offset)
	}
	return mp4.Boxes{Box: &mp4.Stco{ChunkOffsets: stco}}
}
