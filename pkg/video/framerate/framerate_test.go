package framerate

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTiming(t *testing.T) {
	cases := []struct {
		name      string
		input     Framerate
		tpf       uint32
		timescale uint32
	}{
		{"ntsc", NTSC, 100, 2997},
		{"pal", PAL, 1000, 25000},
		{"24", TwentyFour, 1000, 24000},
		{"30", Thirty, 512, 15360},
		{"60", Sixty, 256, 15360},
		{"whole15", Whole(15), 1000, 15000},
		{"whole1", Whole(1), 1000, 1000},
		{"custom", Custom(1001, 30000), 1001, 30000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				tpf, timescale := tc.input.Timing()
				require.Equal(t, tc.tpf, tpf)
				require.Equal(t, tc.timescale, timescale)
			}
			require.True(t, tc.input.Valid())
		})
	}
}

func TestWholeTimescale(t *testing.T) {
	for n := uint32(1); n <= 240; n++ {
		require.Equal(t, n*1000, Whole(n).Timescale())
		require.Equal(t, uint32(1000), Whole(n).TicksPerFrame())
	}
}

func TestFPS(t *testing.T) {
	require.InDelta(t, 29.97, NTSC.FPS(), 0.001)
	require.InDelta(t, 25.0, PAL.FPS(), 0.001)
	require.InDelta(t, 30.0, Thirty.FPS(), 0.001)
	require.InDelta(t, 60.0, Sixty.FPS(), 0.001)
	require.Equal(t, float64(0), Framerate{}.FPS())
}

func TestValid(t *testing.T) {
	require.False(t, Framerate{}.Valid())
	require.False(t, Whole(0).Valid())
	require.False(t, Custom(0, 1000).Valid())
	require.False(t, Custom(1000, 0).Valid())

	// The timescale would not fit in 32 bits.
	require.True(t, Whole(4294967).Valid())
	require.False(t, Whole(4294968).Valid())
	require.False(t, Whole(5000000).Valid())
}

func TestParse(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		cases := map[string]Framerate{
			"ntsc":              NTSC,
			"29.97":             NTSC,
			"PAL":               PAL,
			"25":                PAL,
			"24":                TwentyFour,
			" 30 ":              Thirty,
			"60":                Sixty,
			"15":                Whole(15),
			"custom:1001/30000": Custom(1001, 30000),
			"Custom:512/15360":  Custom(512, 15360),
		}
		for input, want := range cases {
			got, err := Parse(input)
			require.NoError(t, err, input)
			require.Equal(t, want, got, input)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		for _, input := range []string{
			"", "0", "-1", "abc", "12.5", "5000000",
			"custom:", "custom:1", "custom:0/100", "custom:100/0", "custom:a/b",
		} {
			_, err := Parse(input)
			require.ErrorIs(t, err, ErrInvalid, input)
		}
	})
}

func TestStringRoundTrip(t *testing.T) {
	for _, f := range []Framerate{NTSC, PAL, TwentyFour, Thirty, Sixty, Whole(12), Custom(3, 90)} {
		got, err := Parse(f.String())
		require.NoError(t, err)
		require.Equal(t, f, got)
	}
}

func TestYAML(t *testing.T) {
	var c struct {
		Rate Framerate `yaml:"rate"`
	}
	err := yaml.Unmarshal([]byte("rate: ntsc\n"), &c)
	require.NoError(t, err)
	require.Equal(t, NTSC, c.Rate)

	err = yaml.Unmarshal([]byte("rate: 0\n"), &c)
	require.ErrorIs(t, err, ErrInvalid)

	out, err := yaml.Marshal(struct {
		Rate Framerate `yaml:"rate"`
	}{Rate: Whole(12)})
	require.NoError(t, err)
	require.Equal(t, "rate: \"12\"\n", string(out))
}
