package ffmpeg

import (
	"bytes"
	"io"
	"os/exec"
	"testing"

	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/h264"

	"github.com/stretchr/testify/require"
)

func newTestFFMPEG(env ...string) *FFMPEG {
	return &FFMPEG{command: func(...string) *exec.Cmd {
		return fakeExecCommand(env...)
	}}
}

var testConf = encoder.Config{Width: 4, Height: 2, BitrateKbps: 100, FPS: 30}

func newTestEncoder(t *testing.T, env ...string) encoder.Encoder {
	t.Helper()
	enc, err := newTestFFMPEG(env...).H264Encoder(nil, "test")(testConf)
	require.NoError(t, err)
	t.Cleanup(func() { enc.Close() })
	return enc
}

func testPicture(luma byte) *encoder.Picture {
	pic := encoder.NewPicture(4, 2)
	pic.Y[0] = luma
	return pic
}

func TestH264Encoder(t *testing.T) {
	enc := newTestEncoder(t, "MODE=encode", "FRAME_SIZE=12", "LATENCY=2", "GOP=3")

	var frames []encoder.Bitstream
	for i := 0; i < 7; i++ {
		out, err := enc.Encode(testPicture(byte(i)))
		require.NoError(t, err)
		frames = append(frames, out...)
	}
	out, err := enc.Flush()
	require.NoError(t, err)
	frames = append(frames, out...)

	require.Len(t, frames, 7)
	for i, frame := range frames {
		require.Len(t, frame.Layers, 1)
		nalus, err := h264.SplitAnnexB(frame.Layers[0])
		require.NoError(t, err)

		var types []h264.NALUType
		for _, n := range nalus {
			types = append(types, n.Type)
		}

		if i%3 == 0 {
			require.Equal(t, encoder.FrameTypeIDR, frame.FrameType, i)
			require.Equal(t, []h264.NALUType{
				h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeIDR,
			}, types)
			require.Equal(t, fakeSPS, nalus[0].Payload)
			require.Equal(t, fakePPS, nalus[1].Payload)
		} else {
			require.Equal(t, encoder.FrameTypeP, frame.FrameType, i)
			require.Equal(t, []h264.NALUType{h264.NALUTypeNonIDR}, types)
		}

		// Frames are returned in input order.
		slice := nalus[len(nalus)-1].Payload
		require.Equal(t, byte(i), slice[1])
	}

	// Flush is idempotent, encode after flush is not allowed.
	out, err = enc.Flush()
	require.NoError(t, err)
	require.Empty(t, out)
	_, err = enc.Encode(testPicture(0))
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())
	_, err = enc.Flush()
	require.ErrorIs(t, err, ErrClosed)
}

func TestH264EncoderErrors(t *testing.T) {
	t.Run("invalidConfig", func(t *testing.T) {
		_, err := newTestFFMPEG().H264Encoder(nil, "")(encoder.Config{Width: 3, Height: 2, BitrateKbps: 1})
		require.ErrorIs(t, err, encoder.ErrInvalidDimensions)
	})
	t.Run("pictureSize", func(t *testing.T) {
		enc := newTestEncoder(t, "MODE=encode", "FRAME_SIZE=12", "LATENCY=0", "GOP=1")
		_, err := enc.Encode(encoder.NewPicture(2, 2))
		require.ErrorIs(t, err, ErrPictureSize)
	})
	t.Run("garbageOutput", func(t *testing.T) {
		enc := newTestEncoder(t, "MODE=garbage")
		_, err := enc.Encode(testPicture(1))
		if err == nil {
			_, err = enc.Flush()
		}
		require.ErrorIs(t, err, ErrFLVHeader)
	})
	t.Run("processFails", func(t *testing.T) {
		enc := newTestEncoder(t, "MODE=fail")
		_, err := enc.Encode(testPicture(1))
		if err == nil {
			_, err = enc.Flush()
		}
		require.Error(t, err)
	})
	t.Run("closeInterrupts", func(t *testing.T) {
		enc := newTestEncoder(t, "MODE=sleep")
		out, err := enc.Encode(testPicture(1))
		require.NoError(t, err)
		require.Empty(t, out)
		require.NoError(t, enc.Close())
	})
}

func TestEncoderArgs(t *testing.T) {
	args := EncoderArgs(encoder.Config{Width: 640, Height: 480, BitrateKbps: 500, FPS: 25})

	value := func(flag string) string {
		for i, arg := range args {
			if arg == flag {
				return args[i+1]
			}
		}
		t.Fatalf("missing %v", flag)
		return ""
	}
	require.Equal(t, "640x480", value("-s"))
	require.Equal(t, "25", value("-r"))
	require.Equal(t, "500k", value("-b:v"))
	require.Equal(t, "50", value("-g"))
	require.Equal(t, "baseline", value("-profile:v"))
	require.Equal(t, "0", value("-bf"))
	require.Equal(t, "rawvideo", value("-f"))
	require.Equal(t, []string{"-f", "flv", "-flush_packets", "1", "pipe:1"}, args[len(args)-5:])

	args = EncoderArgs(encoder.Config{Width: 2, Height: 2, BitrateKbps: 1})
	require.Equal(t, "30", value("-r"))
}

func TestReadTag(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(flvHeader())
	buf.Write(packTag(tagTypeVideo, 0x01020304, []byte{1, 2, 3}))

	require.NoError(t, readFLVHeader(&buf))
	tag, err := readTag(&buf)
	require.NoError(t, err)
	require.Equal(t, tagHeader{Type: tagTypeVideo, DataSize: 3, Timestamp: 0x01020304}, tag.header)
	require.Equal(t, []byte{1, 2, 3}, tag.body)

	_, err = readTag(&buf)
	require.ErrorIs(t, err, io.EOF)

	truncated := packTag(tagTypeVideo, 0, []byte{1, 2, 3})
	_, err = readTag(bytes.NewReader(truncated[:12]))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	err = readFLVHeader(bytes.NewReader([]byte("FLX\x01\x01\x00\x00\x00\x09\x00\x00\x00\x00")))
	require.ErrorIs(t, err, ErrFLVHeader)
}

func TestReadFLVHeaderOffset(t *testing.T) {
	// A 12 byte header, the extension is skipped.
	var buf bytes.Buffer
	buf.Write([]byte{'F', 'L', 'V', 1, 1, 0, 0, 0, 12, 0xaa, 0xbb, 0xcc, 0, 0, 0, 0})
	buf.Write(packTag(tagTypeVideo, 0x00abcdef, []byte{7}))

	require.NoError(t, readFLVHeader(&buf))
	tag, err := readTag(&buf)
	require.NoError(t, err)
	require.Equal(t, tagHeader{Type: tagTypeVideo, DataSize: 1, Timestamp: 0x00abcdef}, tag.header)
	require.Equal(t, []byte{7}, tag.body)
}

func TestParseVideoTag(t *testing.T) {
	_, ok, err := parseVideoTag(flvTag{header: tagHeader{Type: 8}, body: []byte{0xaf, 1}})
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = parseVideoTag(flvTag{header: tagHeader{Type: tagTypeVideo}, body: []byte{0x17}})
	require.ErrorIs(t, err, ErrVideoTagTooShort)

	// HEVC.
	_, ok, err = parseVideoTag(flvTag{header: tagHeader{Type: tagTypeVideo}, body: []byte{0x1c, 1, 0, 0, 0}})
	require.NoError(t, err)
	require.False(t, ok)

	video, ok, err := parseVideoTag(flvTag{
		header: tagHeader{Type: tagTypeVideo},
		body:   []byte{0x17, 1, 0, 0, 0, 9},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, videoTag{keyframe: true, packetType: 1, data: []byte{9}}, video)
}

func TestParseAVCSeqHeader(t *testing.T) {
	conf, err := parseAVCSeqHeader(seqHeaderRecord(fakeSPS, fakePPS))
	require.NoError(t, err)
	require.Equal(t, avcConfig{
		sps:        [][]byte{fakeSPS},
		pps:        [][]byte{fakePPS},
		lengthSize: 4,
	}, conf)

	rec := seqHeaderRecord(fakeSPS, fakePPS)
	cases := map[string][]byte{
		"empty":     {},
		"version":   append([]byte{2}, rec[1:]...),
		"truncated": rec[:len(rec)-2],
		"noPPS":     rec[:6+2+len(fakeSPS)],
		"zeroSets":  {1, 0x42, 0xc0, 0x1f, 0xff, 0xe0, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseAVCSeqHeader(tc)
			require.ErrorIs(t, err, ErrAVCSeqHeader)
		})
	}
}

func TestNewBitstream(t *testing.T) {
	conf := avcConfig{sps: [][]byte{fakeSPS}, pps: [][]byte{fakePPS}, lengthSize: 4}

	t.Run("inlineParameterSets", func(t *testing.T) {
		data := h264.AVCCMarshal([][]byte{fakeSPS, fakePPS, {0x65, 1}})
		bs, err := newBitstream(videoTag{keyframe: true, data: data}, conf)
		require.NoError(t, err)
		require.Equal(t, encoder.FrameTypeIDR, bs.FrameType)
		nalus, err := h264.SplitAnnexB(bs.Layers[0])
		require.NoError(t, err)
		require.Len(t, nalus, 3)
	})
	t.Run("keyframeWithoutIDR", func(t *testing.T) {
		data := h264.AVCCMarshal([][]byte{{0x41, 1}})
		bs, err := newBitstream(videoTag{keyframe: true, data: data}, conf)
		require.NoError(t, err)
		require.Equal(t, encoder.FrameTypeI, bs.FrameType)
	})
	t.Run("empty", func(t *testing.T) {
		bs, err := newBitstream(videoTag{}, conf)
		require.NoError(t, err)
		require.Equal(t, encoder.FrameTypeSkip, bs.FrameType)
		require.Zero(t, bs.Size())
	})
	t.Run("invalidLength", func(t *testing.T) {
		_, err := newBitstream(videoTag{data: []byte{0, 0, 0, 9, 1}}, conf)
		require.ErrorIs(t, err, h264.ErrAVCCInvalidLength)
	})
}
