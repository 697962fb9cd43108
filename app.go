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

// Package mp4rec records raw frames to H264 MP4 files.
package mp4rec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mp4rec/pkg/config"
	"mp4rec/pkg/effect"
	"mp4rec/pkg/ffmpeg"
	"mp4rec/pkg/log"
	"mp4rec/pkg/packager"
	"mp4rec/pkg/pipeline"
	"mp4rec/pkg/source"
	"mp4rec/pkg/system"
	"mp4rec/pkg/video/encoder"

	"github.com/google/uuid"
)

// App is a recording session.
type App struct {
	WG     *sync.WaitGroup
	Logger *log.Logger
	Conf   config.Config

	logDB   *log.DB
	stdout  io.Writer
	effects chan effect.Kind
}

// Result of a recording.
type Result struct {
	Pushed  int // Frames pushed by the source.
	Dropped uint64
	Stats   packager.Stats
}

// NewApp returns a recording session. The config must be valid.
// A random session name is generated if none is set.
func NewApp(conf config.Config, stdout io.Writer) *App {
	if conf.Session == "" {
		conf.Session = uuid.NewString()[:8]
	}
	wg := &sync.WaitGroup{}
	app := &App{
		WG:      wg,
		Logger:  log.NewLogger(wg),
		Conf:    conf,
		stdout:  stdout,
		effects: make(chan effect.Kind, 1),
	}
	if conf.LogDB != "" {
		app.logDB = log.NewDB(conf.LogDB, wg)
	}
	return app
}

// SwitchEffect changes the effect of a running session.
// Requests are dropped while one is pending.
func (app *App) SwitchEffect(kind effect.Kind) {
	select {
	case app.effects <- kind:
	default:
	}
}

// Run records until the source ends or the context is canceled.
// The file is finalized in both cases.
func (app *App) Run(ctx context.Context) (Result, error) {
	logCtx, logCancel := context.WithCancel(context.Background())
	defer func() {
		logCancel()
		app.WG.Wait()
	}()

	app.startLogger(logCtx)

	res, err := app.record(ctx)
	if err != nil {
		app.Logger.Error().Src("app").Session(app.Conf.Session).Msgf("recording failed: %v", err)
	}
	return res, err
}

func (app *App) startLogger(ctx context.Context) {
	app.Logger.Start(ctx)

	app.WG.Add(1)
	go func() {
		app.Logger.LogToWriter(ctx, app.stdout, app.Conf.Level())
		app.WG.Done()
	}()

	if app.logDB != nil {
		if err := app.logDB.Init(ctx); err != nil {
			// Continue even if log database is corrupt.
			time.Sleep(10 * time.Millisecond)
			app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
			return
		}
		app.WG.Add(1)
		go func() {
			app.logDB.SaveLogs(ctx, app.Logger)
			app.WG.Done()
		}()
	}

	// Give the subscribers time to subscribe.
	time.Sleep(10 * time.Millisecond)
}

func (app *App) newEncoder() encoder.Factory {
	if app.Conf.Encoder == config.EncoderX264 {
		return ffmpeg.New(app.Conf.FFmpegBin).H264Encoder(app.Logger, app.Conf.Session)
	}
	// The packager defaults to the I_PCM encoder.
	return nil
}

func (app *App) newSource() (source.Source, func(), error) {
	conf := app.Conf
	switch conf.SourceKind() {
	case source.KindPattern:
		src, err := source.NewPattern(conf.Width, conf.Height, conf.PixelFormat(), conf.Frames)
		return src, func() {}, err
	case source.KindRaw:
		in := io.ReadCloser(os.Stdin)
		if conf.Input != "-" {
			file, err := os.Open(conf.Input)
			if err != nil {
				return nil, nil, fmt.Errorf("open input: %w", err)
			}
			in = file
		}
		src, err := source.NewRawReader(in, conf.Width, conf.Height, conf.PixelFormat())
		if err != nil {
			in.Close()
			return nil, nil, err
		}
		return limit(src, conf.Frames), func() { in.Close() }, nil
	}
	return nil, nil, fmt.Errorf("%w: %v", source.ErrUnknownKind, conf.Source)
}

func (app *App) record(ctx context.Context) (Result, error) { //nolint:funlen
	conf := app.Conf
	logger := app.Logger
	session := conf.Session

	src, closeSrc, err := app.newSource()
	if err != nil {
		return Result{}, err
	}
	defer closeSrc()

	if err := os.MkdirAll(filepath.Dir(conf.Output), 0o755); err != nil {
		return Result{}, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.Create(conf.Output)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	defer file.Close()

	muxer, err := packager.New(file, packager.Config{
		Framerate:   conf.Framerate,
		BitrateKbps: conf.BitrateKbps,
		NewEncoder:  app.newEncoder(),
		Logger:      logger,
		Session:     session,
	})
	if err != nil {
		return Result{}, err
	}
	if err := muxer.InitEncoder(conf.Width, conf.Height); err != nil {
		muxer.Finalize() //nolint:errcheck
		return Result{}, err
	}

	logger.Info().Src("app").Session(session).Msgf(
		"recording %v: %dx%d %v %v, %v encoder, %vkbps",
		conf.Output, conf.Width, conf.Height, conf.PixelFormat(), conf.Framerate, conf.Encoder, conf.BitrateKbps)

	handoff := pipeline.New(conf.QueueSize, conf.Policy())

	consumed := make(chan error, 1)
	go func() {
		consumed <- pipeline.Consume(context.Background(), handoff, muxer, logger)
	}()

	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	if conf.StatusInterval > 0 {
		sys := system.New(filepath.Dir(conf.Output), conf.StatusInterval, logger)
		go sys.StatusLoop(statusCtx, func(s system.Status) {
			logger.Info().Src("system").Session(session).
				Msgf("%v, %d frames dropped", s, handoff.Dropped())
		})
	}

	var interval time.Duration
	if conf.Realtime {
		interval = time.Duration(float64(time.Second) / conf.Framerate.FPS())
	}
	pushed, pumpErr := source.Pump(ctx, src, handoff, source.PumpConfig{
		Interval:     interval,
		Effect:       effect.New(conf.EffectKind()),
		SwitchEffect: app.effects,
		Logger:       logger,
		Session:      session,
	})
	consumeErr := <-consumed
	stopStatus()

	res := Result{
		Pushed:  pushed,
		Dropped: handoff.Dropped(),
		Stats:   muxer.Stats(),
	}

	if err := file.Close(); err != nil && consumeErr == nil {
		consumeErr = fmt.Errorf("close output: %w", err)
	}
	if consumeErr != nil {
		return res, consumeErr
	}
	if pumpErr != nil && !errors.Is(pumpErr, context.Canceled) {
		return res, fmt.Errorf("source: %w", pumpErr)
	}

	logger.Info().Src("app").Session(session).Msgf(
		"saved %v: %d frames, %d samples, %d dropped, %v",
		conf.Output, res.Pushed, res.Stats.Samples, res.Dropped, res.Stats.Duration)
	return res, nil
}

// limited stops a source after n frames.
type limited struct {
	source.Source
	n, max int
}

func limit(src source.Source, n int) source.Source {
	if n <= 0 {
		return src
	}
	return &limited{Source: src, max: n}
}

func (l *limited) Next() (packager.Frame, error) {
	if l.n >= l.max {
		return packager.Frame{}, io.EOF
	}
	l.n++
	return l.Source.Next()
}
