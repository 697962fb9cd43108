package h264

import (
	"bytes"
	"math/rand"
	"testing"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/require"
)

func TestSplitAnnexB(t *testing.T) {
	testCases := []struct {
		name     string
		input    []byte
		expected []NALU
	}{
		{
			"empty",
			[]byte{},
			nil,
		},
		{
			"single 4 byte",
			[]byte{0, 0, 0, 1, 0x67, 0xaa},
			[]NALU{{4, NALUTypeSPS, []byte{0x67, 0xaa}}},
		},
		{
			"single 3 byte",
			[]byte{0, 0, 1, 0x68, 0xbb},
			[]NALU{{3, NALUTypePPS, []byte{0x68, 0xbb}}},
		},
		{
			"mixed",
			[]byte{
				0, 0, 0, 1, 0x67, 0xaa,
				0, 0, 1, 0x68, 0xbb,
				0, 0, 0, 1, 0x65, 0xcc, 0xdd,
			},
			[]NALU{
				{4, NALUTypeSPS, []byte{0x67, 0xaa}},
				{3, NALUTypePPS, []byte{0x68, 0xbb}},
				{4, NALUTypeIDR, []byte{0x65, 0xcc, 0xdd}},
			},
		},
		{
			"payload zeros kept",
			[]byte{
				0, 0, 1, 0x67, 0xaa, 0, 0,
				0, 0, 0, 1, 0x68, 0xbb, 0,
			},
			[]NALU{
				{3, NALUTypeSPS, []byte{0x67, 0xaa, 0, 0}},
				{4, NALUTypePPS, []byte{0x68, 0xbb, 0}},
			},
		},
		{
			"last payload ends with zero",
			[]byte{0, 0, 0, 1, 0x67, 0xaa, 0, 0, 0, 1, 0x65, 0x88, 0x00},
			[]NALU{
				{4, NALUTypeSPS, []byte{0x67, 0xaa}},
				{4, NALUTypeIDR, []byte{0x65, 0x88, 0x00}},
			},
		},
		{
			"trailing start code",
			[]byte{0, 0, 0, 1, 0x41, 0x9a, 0, 0, 0, 1},
			[]NALU{{4, NALUTypeNonIDR, []byte{0x41, 0x9a}}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			nalus, err := SplitAnnexB(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, nalus)
		})
	}
}

func TestSplitAnnexBErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input []byte
		err   error
	}{
		{"no start code", []byte{0x67, 0x00, 0x00, 0x01, 0x68}, ErrAnnexBNoStartCode},
		{"garbage prefix", []byte{0x01, 0x00, 0x00, 0x01, 0x68}, ErrAnnexBNoStartCode},
		{"empty unit", []byte{0, 0, 1, 0, 0, 1, 0x68}, ErrAnnexBEmptyNALU},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SplitAnnexB(tc.input)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// randomPayload returns an escaped NALU. Only the last unit of a
// buffer may end with a zero, a zero before a start code is part of
// the start code.
func randomPayload(r *rand.Rand, naluType NALUType, last bool) []byte {
	raw := make([]byte, 1+r.Intn(64))
	r.Read(raw)
	// Bias towards zeros to exercise emulation prevention.
	for i := range raw {
		if r.Intn(3) == 0 {
			raw[i] = 0
		}
	}
	raw[0] = 0x60 | byte(naluType)
	escaped := EscapeRBSP(raw)
	if last {
		if len(raw) > 1 && r.Intn(2) == 0 {
			escaped = append(escaped, 0)
		}
		return escaped
	}
	if escaped[len(escaped)-1] == 0 {
		escaped[len(escaped)-1] = 0x80
	}
	return escaped
}

func TestSplitAnnexBRecovery(t *testing.T) {
	r := rand.New(rand.NewSource(1)) //nolint:gosec
	types := []NALUType{NALUTypeSPS, NALUTypePPS, NALUTypeIDR, NALUTypeNonIDR, NALUTypeSEI}

	for i := 0; i < 200; i++ {
		var buf bytes.Buffer
		var expected []NALU
		count := 1 + r.Intn(6)
		for n := 0; n < count; n++ {
			payload := randomPayload(r, types[r.Intn(len(types))], n == count-1)
			scLen := 3 + r.Intn(2)
			if scLen == 4 {
				buf.WriteByte(0)
			}
			buf.Write(startCode3)
			buf.Write(payload)
			expected = append(expected, NALU{
				StartCodeLen: scLen,
				Type:         TypeOf(payload[0]),
				Payload:      payload,
			})
		}

		nalus, err := SplitAnnexB(buf.Bytes())
		require.NoError(t, err)
		require.Equal(t, expected, nalus)

		var ref mch264.AnnexB
		require.NoError(t, ref.Unmarshal(buf.Bytes()))
		require.Len(t, ref, len(nalus))
		for j, nalu := range nalus {
			require.Equal(t, []byte(ref[j]), nalu.Payload)
		}
	}
}

func TestAnnexBMarshal(t *testing.T) {
	nalus := [][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x03, 0x04}}
	buf := AnnexBMarshal(nalus)
	require.Equal(t, []byte{
		0, 0, 0, 1, 0x67, 0x01,
		0, 0, 0, 1, 0x68, 0x02,
		0, 0, 0, 1, 0x65, 0x03, 0x04,
	}, buf)

	split, err := SplitAnnexB(buf)
	require.NoError(t, err)
	require.Len(t, split, 3)
	for i, nalu := range split {
		require.Equal(t, nalus[i], nalu.Payload)
	}
}

func TestNALUTypeClass(t *testing.T) {
	require.Equal(t, ClassSPS, TypeOf(0x67).Class())
	require.Equal(t, ClassPPS, TypeOf(0x68).Class())
	require.Equal(t, ClassOther, TypeOf(0x65).Class())
	require.True(t, NALUTypePPS.IsParameterSet())
	require.False(t, NALUTypeIDR.IsParameterSet())
	require.Equal(t, "IDR", NALUTypeIDR.String())
	require.Equal(t, "unknown(30)", NALUType(30).String())
}
