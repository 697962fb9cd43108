package h264

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeRBSP(t *testing.T) {
	testCases := []struct {
		name    string
		rbsp    []byte
		escaped []byte
	}{
		{"plain", []byte{0x65, 0x88, 0x84}, []byte{0x65, 0x88, 0x84}},
		{"start code", []byte{0x00, 0x00, 0x01}, []byte{0x00, 0x00, 0x03, 0x01}},
		{"zeros", []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00, 0x03, 0x00, 0x00, 0x03}},
		{"three", []byte{0x00, 0x00, 0x03, 0x80}, []byte{0x00, 0x00, 0x03, 0x03, 0x80}},
		{"high byte", []byte{0x00, 0x00, 0x04}, []byte{0x00, 0x00, 0x04}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.escaped, EscapeRBSP(tc.rbsp))
			require.Equal(t, tc.rbsp, UnescapeRBSP(tc.escaped))
		})
	}
}

func TestEscapeRBSPRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(2)) //nolint:gosec
	for i := 0; i < 500; i++ {
		raw := make([]byte, r.Intn(128))
		for j := range raw {
			raw[j] = byte(r.Intn(5))
		}
		escaped := EscapeRBSP(raw)
		_, err := SplitAnnexB(append([]byte{0, 0, 0, 1, 0x65}, escaped...))
		require.NoError(t, err)
		require.NotContains(t, string(escaped), string([]byte{0, 0, 1}))
		require.Equal(t, raw, UnescapeRBSP(escaped))
	}
}

func TestAVCC(t *testing.T) {
	nalus := [][]byte{{0x67, 0x01, 0x02}, {0x65}}
	buf := AVCCMarshal(nalus)
	require.Equal(t, []byte{
		0, 0, 0, 3, 0x67, 0x01, 0x02,
		0, 0, 0, 1, 0x65,
	}, buf)
	require.Equal(t, len(buf), AVCCMarshalSize(nalus))

	dec, err := AVCCUnmarshal(buf, 4)
	require.NoError(t, err)
	require.Equal(t, nalus, dec)

	dec, err = AVCCUnmarshal([]byte{0, 2, 0x68, 0xce, 0, 1, 0x41}, 2)
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0x68, 0xce}, {0x41}}, dec)

	t.Run("truncated", func(t *testing.T) {
		_, err := AVCCUnmarshal([]byte{0, 0, 0, 5, 0x65}, 4)
		require.ErrorIs(t, err, ErrAVCCInvalidLength)
	})
	t.Run("tooBig", func(t *testing.T) {
		_, err := AVCCUnmarshal([]byte{0x7f, 0xff, 0xff, 0xff, 0x65}, 4)
		var e AVCCnaluSizeTooBigError
		require.ErrorAs(t, err, &e)
	})
}

func TestSPSUnmarshal(t *testing.T) {
	testCases := []struct {
		name   string
		buf    []byte
		sps    SPS
		width  int
		height int
	}{
		{
			"1280x720 high",
			[]byte{
				0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
				0x05, 0xbb, 0x01, 0x6c, 0x80, 0x00, 0x00, 0x03,
				0x00, 0x80, 0x00, 0x00, 0x1e, 0x07, 0x8c, 0x18,
				0xcb,
			},
			SPS{
				ProfileIdc:                  100,
				LevelIdc:                    31,
				ChromaFormatIdc:             1,
				Log2MaxPicOrderCntLsbMinus4: 2,
				MaxNumRefFrames:             4,
				PicWidthInMbsMinus1:         79,
				PicHeightInMapUnitsMinus1:   44,
				FrameMbsOnlyFlag:            true,
				Direct8x8InferenceFlag:      true,
				VUIParametersPresentFlag:    true,
			},
			1280,
			720,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var sps SPS
			require.NoError(t, sps.Unmarshal(tc.buf))
			require.Equal(t, tc.sps, sps)
			require.Equal(t, tc.width, sps.Width())
			require.Equal(t, tc.height, sps.Height())
		})
	}
}

func TestSPSUnmarshalErrors(t *testing.T) {
	var sps SPS
	require.ErrorIs(t, sps.Unmarshal([]byte{0x67, 0x42}), ErrSPSBufferTooShort)
	require.ErrorIs(t, sps.Unmarshal([]byte{0x68, 0x42, 0x00, 0x1e, 0x80}), ErrSPSWrongType)
	require.ErrorIs(t, sps.Unmarshal([]byte{0xe7, 0x42, 0x00, 0x1e, 0x80}), ErrSPSWrongForbiddenBit)
	require.Error(t, sps.Unmarshal([]byte{0x67, 0x42, 0x00, 0x1e}))
}

func TestSPSCropping(t *testing.T) {
	sps := SPS{
		ChromaFormatIdc:           1,
		PicWidthInMbsMinus1:       0,
		PicHeightInMapUnitsMinus1: 0,
		FrameMbsOnlyFlag:          true,
		FrameCropping: &SpsFramecropping{
			RightOffset:  7,
			BottomOffset: 7,
		},
	}
	require.Equal(t, 2, sps.Width())
	require.Equal(t, 2, sps.Height())
}
