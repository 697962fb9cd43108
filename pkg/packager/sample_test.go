package packager

import (
	"testing"

	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/h264"

	"github.com/stretchr/testify/require"
)

func nalu(header byte, payload ...byte) h264.NALU {
	return h264.NALU{
		StartCodeLen: 4,
		Type:         h264.TypeOf(header),
		Payload:      append([]byte{header}, payload...),
	}
}

func TestParameterSetCache(t *testing.T) {
	t.Run("firstWins", func(t *testing.T) {
		var c ParameterSetCache
		require.False(t, c.Ready())

		err := c.Capture([]h264.NALU{
			nalu(0x09, 0xf0),
			nalu(0x67, 1),
			nalu(0x67, 2),
			nalu(0x68, 3),
			nalu(0x68, 4),
			nalu(0x65, 5),
		})
		require.NoError(t, err)
		require.True(t, c.Ready())
		require.Equal(t, []byte{0x67, 1}, c.SPS())
		require.Equal(t, []byte{0x68, 3}, c.PPS())

		// Frozen.
		require.NoError(t, c.Capture([]h264.NALU{nalu(0x67, 9), nalu(0x68, 9)}))
		require.NoError(t, c.Capture(nil))
		require.Equal(t, []byte{0x67, 1}, c.SPS())
		require.Equal(t, []byte{0x68, 3}, c.PPS())
	})
	t.Run("copies", func(t *testing.T) {
		units := []h264.NALU{nalu(0x67, 1), nalu(0x68, 2)}
		var c ParameterSetCache
		require.NoError(t, c.Capture(units))
		units[0].Payload[1] = 0xff
		require.Equal(t, []byte{0x67, 1}, c.SPS())
	})
	t.Run("missing", func(t *testing.T) {
		cases := map[string][]h264.NALU{
			"empty":  nil,
			"noPPS":  {nalu(0x67, 1), nalu(0x65, 2)},
			"noSPS":  {nalu(0x68, 1), nalu(0x65, 2)},
			"sliceS": {nalu(0x65, 2)},
		}
		for name, units := range cases {
			t.Run(name, func(t *testing.T) {
				var c ParameterSetCache
				require.ErrorIs(t, c.Capture(units), ErrMissingParameterSets)
				require.False(t, c.Ready())
			})
		}
	})
	t.Run("partialNotKept", func(t *testing.T) {
		var c ParameterSetCache
		require.Error(t, c.Capture([]h264.NALU{nalu(0x67, 1)}))
		require.NoError(t, c.Capture([]h264.NALU{nalu(0x67, 2), nalu(0x68, 3)}))
		require.Equal(t, []byte{0x67, 2}, c.SPS())
	})
}

func TestBuildSample(t *testing.T) {
	units := []h264.NALU{
		nalu(0x67, 1, 2),
		nalu(0x68, 3),
		nalu(0x06, 4, 5, 6),
		nalu(0x65, 7),
	}

	s := BuildSample(units, encoder.FrameTypeIDR, 1024, 512)
	require.Equal(t, uint64(1024), s.StartTime)
	require.Equal(t, uint32(512), s.Duration)
	require.True(t, s.IsSync)
	require.Equal(t, []byte{
		0, 0, 0, 4, 0x06, 4, 5, 6,
		0, 0, 0, 2, 0x65, 7,
	}, s.Payload)

	nalus, err := h264.AVCCUnmarshal(s.Payload, 4)
	require.NoError(t, err)
	for _, n := range nalus {
		require.False(t, h264.TypeOf(n[0]).IsParameterSet())
	}

	for _, ft := range []encoder.FrameType{
		encoder.FrameTypeI, encoder.FrameTypeP, encoder.FrameTypeInvalid,
	} {
		s := BuildSample(units, ft, 0, 512)
		require.False(t, s.IsSync, ft)
	}

	s = BuildSample(units[:2], encoder.FrameTypeIDR, 0, 512)
	require.Empty(t, s.Payload)
}

func TestSplitBitstream(t *testing.T) {
	layers, err := splitBitstream(encoder.Bitstream{
		Layers: [][]byte{
			{0, 0, 0, 1, 0x67, 1, 0, 0, 1, 0x65, 2},
			{0, 0, 1, 0x14, 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, layers, 2)
	require.Len(t, layers[0], 2)
	require.Equal(t, 4, layers[0][0].StartCodeLen)
	require.Equal(t, 3, layers[0][1].StartCodeLen)
	require.Equal(t, h264.NALUTypeSliceExtension, layers[1][0].Type)

	_, err = splitBitstream(encoder.Bitstream{
		Layers: [][]byte{
			{0, 0, 1, 0x65},
			{0xff, 0, 0, 1, 0x65},
		},
	})
	require.ErrorIs(t, err, h264.ErrAnnexBNoStartCode)
}
