package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"mp4rec/pkg/effect"

	gomp4 "github.com/abema/go-mp4"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRecordAndLogs(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out", "test.mp4")
	logDB := filepath.Join(dir, "logs.db")

	out, err := execute(t, "record",
		"--output", output,
		"--width", "16",
		"--height", "16",
		"--frames", "10",
		"--framerate", "pal",
		"--queue-policy", "block",
		"--log-db", logDB,
		"--session", "cam1",
	)
	require.NoError(t, err, out)
	require.Contains(t, out, "10 samples")

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	info, err := gomp4.Probe(f)
	require.NoError(t, err)
	require.Len(t, info.Tracks, 1)
	require.Equal(t, gomp4.CodecAVC1, info.Tracks[0].Codec)
	require.Len(t, info.Tracks[0].Samples, 10)
	require.Equal(t, uint32(25), info.Tracks[0].Timescale/info.Tracks[0].Samples[0].TimeDelta)

	out, err = execute(t, "logs", "--db", logDB, "--session", "cam1", "--level", "info")
	require.NoError(t, err)
	require.Contains(t, out, "[INFO] cam1: ")

	out, err = execute(t, "logs", "--db", logDB, "--session", "none")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestRecordConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.yaml")
	conf := "output: " + filepath.Join(dir, "a.mp4") + "\nwidth: 8\nheight: 8\nframes: 3\nformat: rgb24\neffect: grayCycle\nqueuePolicy: block\n"
	require.NoError(t, os.WriteFile(path, []byte(conf), 0o600))

	// Flags override the file.
	output := filepath.Join(dir, "b.mp4")
	out, err := execute(t, "record", "--config", path, "--output", output, "--log-level", "error")
	require.NoError(t, err, out)
	require.Contains(t, out, "3 samples")

	_, err = os.Stat(output)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "a.mp4"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecordInvalid(t *testing.T) {
	cases := map[string][]string{
		"framerate":  {"--framerate", "fast"},
		"width":      {"--width", "15"},
		"encoder":    {"--encoder", "vp9"},
		"queueSize":  {"--queue-size", "3"},
		"effect":     {"--effect", "colorCycle", "--format", "yuv420"},
		"configFile": {"--config", "/nonexistent.yaml"},
		"rawNoInput": {"--source", "raw"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			args := append([]string{"record", "--output", filepath.Join(t.TempDir(), "x.mp4")}, args...)
			_, err := execute(t, args...)
			require.Error(t, err)
		})
	}
}

func TestLogsInvalid(t *testing.T) {
	_, err := execute(t, "logs")
	require.Error(t, err)

	_, err = execute(t, "logs", "--db", filepath.Join(t.TempDir(), "x.db"), "--level", "loud")
	require.Error(t, err)
}

func TestNextEffect(t *testing.T) {
	require.Equal(t, effect.GrayCycle, nextEffect(effect.Passthrough))
	require.Equal(t, effect.ColorCycle, nextEffect(effect.GrayCycle))
	require.Equal(t, effect.Passthrough, nextEffect(effect.ColorCycle))
}
