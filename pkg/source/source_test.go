package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"mp4rec/pkg/effect"
	"mp4rec/pkg/packager"
	"mp4rec/pkg/pipeline"

	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	require.Equal(t, KindPattern, k)

	k, err = ParseKind("RAW")
	require.NoError(t, err)
	require.Equal(t, KindRaw, k)
	require.Equal(t, "raw", k.String())

	_, err = ParseKind("camera")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestPatternYUV(t *testing.T) {
	p, err := NewPattern(8, 8, packager.YUV420, 3)
	require.NoError(t, err)

	frame, err := p.Next()
	require.NoError(t, err)
	require.NoError(t, frame.Validate())

	// 2x2 rectangle in the top left corner.
	luma := frame.Data[:64]
	require.Equal(t, byte(235), luma[0])
	require.Equal(t, byte(235), luma[9])
	require.Equal(t, byte(16), luma[2])
	require.Equal(t, byte(16), luma[16])
	for _, c := range frame.Data[64:] {
		require.Equal(t, byte(128), c)
	}

	// The rectangle moved diagonally.
	frame, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, byte(16), frame.Data[0])
	require.Equal(t, byte(235), frame.Data[2*8+2])

	_, err = p.Next()
	require.NoError(t, err)
	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestPatternRGB(t *testing.T) {
	p, err := NewPattern(4, 2, packager.RGB24, 0)
	require.NoError(t, err)

	frame, err := p.Next()
	require.NoError(t, err)
	require.NoError(t, frame.Validate())
	require.Equal(t, []byte{
		255, 255, 255, 255, 255, 255, 0, 0, 0, 0, 0, 0,
		255, 255, 255, 255, 255, 255, 0, 0, 0, 0, 0, 0,
	}, frame.Data)

	// Bounces off the right edge.
	var xs []int
	for i := 0; i < 4; i++ {
		_, err := p.Next()
		require.NoError(t, err)
		xs = append(xs, p.x)
	}
	require.Equal(t, []int{0, 2, 0, 2}, xs)
	for _, x := range xs {
		require.GreaterOrEqual(t, x, 0)
		require.LessOrEqual(t, x, 2)
	}
}

func TestNewPatternErrors(t *testing.T) {
	_, err := NewPattern(0, 2, packager.RGB24, 0)
	require.ErrorIs(t, err, ErrInvalidPattern)
	_, err = NewPattern(2, 2, packager.PixelFormat(9), 0)
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestRawReader(t *testing.T) {
	data := []byte{1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 3}
	r, err := NewRawReader(bytes.NewReader(data), 2, 2, packager.YUV420)
	require.NoError(t, err)

	frame, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1, 1, 2, 2}, frame.Data)

	frame, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, []byte{2, 2, 2, 2, 2, 2}, frame.Data)

	_, err = r.Next()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)

	_, err = NewRawReader(nil, 0, 2, packager.RGB24)
	require.ErrorIs(t, err, packager.ErrFrameLayout)
}

type mockHandoff struct {
	frames   []packager.Frame
	shutdown int
	err      error
}

func (h *mockHandoff) Push(_ context.Context, frame packager.Frame) error {
	if h.err != nil {
		return h.err
	}
	frame.Data = append([]byte(nil), frame.Data...)
	h.frames = append(h.frames, frame)
	return nil
}

func (h *mockHandoff) Shutdown()       { h.shutdown++ }
func (h *mockHandoff) Dropped() uint64 { return 0 }

func TestPump(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		p, err := NewPattern(4, 2, packager.RGB24, 5)
		require.NoError(t, err)
		h := &mockHandoff{}

		n, err := Pump(context.Background(), p, h, PumpConfig{})
		require.NoError(t, err)
		require.Equal(t, 5, n)
		require.Len(t, h.frames, 5)
		require.Equal(t, 1, h.shutdown)
	})
	t.Run("paced", func(t *testing.T) {
		p, err := NewPattern(4, 2, packager.RGB24, 3)
		require.NoError(t, err)
		h := &mockHandoff{}

		start := time.Now()
		n, err := Pump(context.Background(), p, h, PumpConfig{Interval: 20 * time.Millisecond})
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})
	t.Run("effect", func(t *testing.T) {
		p, err := NewPattern(4, 2, packager.RGB24, 1)
		require.NoError(t, err)
		h := &mockHandoff{}

		_, err = Pump(context.Background(), p, h, PumpConfig{Effect: effect.New(effect.ColorCycle)})
		require.NoError(t, err)
		// Only the red channel of the white rectangle.
		require.Equal(t, []byte{255, 0, 0}, h.frames[0].Data[:3])
	})
	t.Run("switchEffect", func(t *testing.T) {
		p, err := NewPattern(4, 2, packager.RGB24, 2)
		require.NoError(t, err)
		h := &mockHandoff{}

		switches := make(chan effect.Kind, 1)
		switches <- effect.GrayCycle
		_, err = Pump(context.Background(), p, h, PumpConfig{SwitchEffect: switches})
		require.NoError(t, err)
		require.Equal(t, []byte{255, 0, 0}, h.frames[0].Data[:3])
	})
	t.Run("canceled", func(t *testing.T) {
		p, err := NewPattern(4, 2, packager.RGB24, 0)
		require.NoError(t, err)
		h := &mockHandoff{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = Pump(ctx, p, h, PumpConfig{})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, h.shutdown)
	})
	t.Run("shutdown", func(t *testing.T) {
		p, err := NewPattern(4, 2, packager.RGB24, 0)
		require.NoError(t, err)
		h := &mockHandoff{err: pipeline.ErrShutdown}

		n, err := Pump(context.Background(), p, h, PumpConfig{})
		require.NoError(t, err)
		require.Zero(t, n)
	})
	t.Run("readError", func(t *testing.T) {
		r, err := NewRawReader(bytes.NewReader([]byte{1}), 2, 2, packager.YUV420)
		require.NoError(t, err)

		_, err = Pump(context.Background(), r, &mockHandoff{}, PumpConfig{})
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
	t.Run("effectError", func(t *testing.T) {
		p, err := NewPattern(2, 2, packager.YUV420, 1)
		require.NoError(t, err)

		_, err = Pump(context.Background(), p, &mockHandoff{}, PumpConfig{Effect: effect.New(effect.GrayCycle)})
		require.ErrorIs(t, err, effect.ErrUnsupportedFormat)
	})
	t.Run("pushError", func(t *testing.T) {
		errPush := errors.New("push")
		p, err := NewPattern(2, 2, packager.YUV420, 1)
		require.NoError(t, err)

		_, err = Pump(context.Background(), p, &mockHandoff{err: errPush}, PumpConfig{})
		require.ErrorIs(t, err, errPush)
	})
}

type countIngester struct{ n int }

func (c *countIngester) Ingest(packager.Frame) error { c.n++; return nil }
func (c *countIngester) Finalize() error             { return nil }

func TestPumpQueue(t *testing.T) {
	p, err := NewPattern(4, 4, packager.YUV420, 10)
	require.NoError(t, err)
	q := pipeline.NewQueue(2, pipeline.Block)
	ing := &countIngester{}

	done := make(chan error)
	go func() { done <- pipeline.Consume(context.Background(), q, ing, nil) }()

	n, err := Pump(context.Background(), p, q, PumpConfig{})
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.NoError(t, <-done)
	require.Equal(t, 10, ing.n)
}
