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
	"errors"
	"fmt"
	"io"

	"github.com/q191201771/naza/pkg/bele"
)

// FLV framing.
const (
	flvHeaderSize        = 9
	tagHeaderSize        = 11
	prevTagSizeFieldSize = 4

	tagTypeVideo = 9

	codecIDAVC   = 7
	frameTypeKey = 1

	avcPacketTypeSeqHeader = 0
	avcPacketTypeNALU      = 1
	avcPacketTypeEOS       = 2

	// Frame type, codec, packet type and composition time.
	videoTagHeaderSize = 5
)

// Errors.
var (
	ErrFLVHeader        = errors.New("invalid flv header")
	ErrAVCSeqHeader     = errors.New("invalid avc sequence header")
	ErrVideoTagTooShort = errors.New("video tag too short")
)

type tagHeader struct {
	Type      uint8
	DataSize  uint32
	Timestamp uint32 // Milliseconds.
}

type flvTag struct {
	header tagHeader
	body   []byte
}

func readFLVHeader(r io.Reader) error {
	buf := make([]byte, flvHeaderSize+prevTagSizeFieldSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if buf[0] != 'F' || buf[1] != 'L' || buf[2] != 'V' {
		return fmt.Errorf("%w: signature %q", ErrFLVHeader, buf[:3])
	}

	// Skip any extension of the header.
	if offset := bele.BeUint32(buf[5:]); offset > flvHeaderSize {
		if _, err := io.CopyN(io.Discard, r, int64(offset-flvHeaderSize)); err != nil {
			return err
		}
	}
	return nil
}

func parseTagHeader(raw []byte) tagHeader {
	return tagHeader{
		Type:      raw[0],
		DataSize:  bele.BeUint24(raw[1:]),
		Timestamp: uint32(raw[7])<<24 + bele.BeUint24(raw[4:]),
	}
}

// readTag reads one tag and the size field that follows it.
// io.EOF is only returned at a tag boundary.
func readTag(r io.Reader) (flvTag, error) {
	raw := make([]byte, tagHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return flvTag{}, err
	}
	header := parseTagHeader(raw)

	buf := make([]byte, int(header.DataSize)+prevTagSizeFieldSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return flvTag{}, err
	}
	return flvTag{
		header: header,
		body:   buf[:header.DataSize],
	}, nil
}

// videoTag is a parsed AVC video tag.
type videoTag struct {
	keyframe   bool
	packetType uint8
	data       []byte
}

// parseVideoTag returns false if the tag is not AVC video.
func parseVideoTag(tag flvTag) (videoTag, bool, error) {
	if tag.header.Type != tagTypeVideo {
		return videoTag{}, false, nil
	}
	if len(tag.body) < videoTagHeaderSize {
		return videoTag{}, false, fmt.Errorf("%w: %d", ErrVideoTagTooShort, len(tag.body))
	}
	if tag.body[0]&0xf != codecIDAVC {
		return videoTag{}, false, nil
	}
	return videoTag{
		keyframe:   tag.body[0]>>4 == frameTypeKey,
		packetType: tag.body[1],
		data:       tag.body[videoTagHeaderSize:],
	}, true, nil
}

// avcConfig is the content of an AVCDecoderConfigurationRecord.
type avcConfig struct {
	sps        [][]byte
	pps        [][]byte
	lengthSize int
}

// parseAVCSeqHeader parses an AVCDecoderConfigurationRecord,
// ISO/IEC 14496-15 5.2.4.
func parseAVCSeqHeader(buf []byte) (avcConfig, error) {
	if len(buf) < 6 || buf[0] != 1 {
		return avcConfig{}, fmt.Errorf("%w: bad version or size", ErrAVCSeqHeader)
	}
	conf := avcConfig{lengthSize: int(buf[4]&0x03) + 1}

	pos := 5
	readSets := func() ([][]byte, error) {
		if pos >= len(buf) {
			return nil, fmt.Errorf("%w: missing count", ErrAVCSeqHeader)
		}
		n := int(buf[pos] & 0x1f)
		pos++

		sets := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			if len(buf)-pos < 2 {
				return nil, fmt.Errorf("%w: missing length", ErrAVCSeqHeader)
			}
			size := int(bele.BeUint16(buf[pos:]))
			pos += 2
			if len(buf)-pos < size {
				return nil, fmt.Errorf("%w: set exceeds record", ErrAVCSeqHeader)
			}
			sets = append(sets, append([]byte(nil), buf[pos:pos+size]...))
			pos += size
		}
		return sets, nil
	}

	var err error
	if conf.sps, err = readSets(); err != nil {
		return avcConfig{}, err
	}
	if conf.pps, err = readSets(); err != nil {
		return avcConfig{}, err
	}
	if len(conf.sps) == 0 || len(conf.pps) == 0 {
		return avcConfig{}, fmt.Errorf("%w: no parameter sets", ErrAVCSeqHeader)
	}
	return conf, nil
}
