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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mp4rec"
	"mp4rec/pkg/config"
	"mp4rec/pkg/effect"
	"mp4rec/pkg/video/framerate"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordOptions struct {
	configPath string
	conf       config.Config
	framerate  string
}

func newRecordCommand() *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a session",
		Long: `Record frames from a source to an MP4 file. Flags override the config file.
SIGINT and SIGTERM stop the recording and finalize the file,
SIGUSR1 cycles through the effects.`,
		Example: `  mp4rec record --frames 300 --output test.mp4
  mp4rec record --config rec.yaml --encoder x264 --effect colorCycle
  ffmpeg -i in.mkv -f rawvideo -pix_fmt yuv420p - | mp4rec record --source raw --input - --format yuv420 --width 1280 --height 720`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := opts.load(cmd.Flags())
			if err != nil {
				return err
			}
			return runRecord(cmd.Context(), conf, cmd)
		},
	}

	flags := cmd.Flags()
	c := &opts.conf
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config")
	flags.StringVarP(&c.Output, "output", "o", "", "output file")
	flags.StringVar(&opts.framerate, "framerate", "", "ntsc, pal, 24, 30, 60, <n> or custom:<ticks>/<timescale>")
	flags.IntVar(&c.BitrateKbps, "bitrate", 0, "bitrate in kbps")
	flags.StringVar(&c.Encoder, "encoder", "", "pcm or x264")
	flags.StringVar(&c.FFmpegBin, "ffmpeg-bin", "", "ffmpeg binary for the x264 encoder")
	flags.IntVar(&c.Width, "width", 0, "frame width")
	flags.IntVar(&c.Height, "height", 0, "frame height")
	flags.IntVarP(&c.Frames, "frames", "n", 0, "stop after n frames, 0 records until interrupted")
	flags.StringVar(&c.Format, "format", "", "rgb24 or yuv420")
	flags.StringVar(&c.Source, "source", "", "pattern or raw")
	flags.StringVarP(&c.Input, "input", "i", "", "raw input file, - is stdin")
	flags.StringVar(&c.Effect, "effect", "", "passthrough, grayCycle or colorCycle")
	flags.BoolVar(&c.Realtime, "realtime", false, "pace the source at the framerate")
	flags.IntVar(&c.QueueSize, "queue-size", 0, "frame queue size, 1 or 2")
	flags.StringVar(&c.QueuePolicy, "queue-policy", "", "dropOldest, block or latest")
	flags.StringVar(&c.LogDB, "log-db", "", "save logs to this database")
	flags.StringVar(&c.LogLevel, "log-level", "", "error, warning, info or debug")
	flags.DurationVar(&c.StatusInterval, "status-interval", 0, "system status interval")
	flags.StringVar(&c.Session, "session", "", "session name used in logs")

	cmd.RegisterFlagCompletionFunc("encoder", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) { //nolint:errcheck
		return []string{config.EncoderPCM, config.EncoderX264}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// load reads the config file and applies the flags that were set.
func (opts *recordOptions) load(flags *pflag.FlagSet) (config.Config, error) {
	var conf config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		conf = *c
	}

	c := opts.conf
	overrides := map[string]func(){
		"output":          func() { conf.Output = c.Output },
		"bitrate":         func() { conf.BitrateKbps = c.BitrateKbps },
		"encoder":         func() { conf.Encoder = c.Encoder },
		"ffmpeg-bin":      func() { conf.FFmpegBin = c.FFmpegBin },
		"width":           func() { conf.Width = c.Width },
		"height":          func() { conf.Height = c.Height },
		"frames":          func() { conf.Frames = c.Frames },
		"format":          func() { conf.Format = c.Format },
		"source":          func() { conf.Source = c.Source },
		"input":           func() { conf.Input = c.Input },
		"effect":          func() { conf.Effect = c.Effect },
		"realtime":        func() { conf.Realtime = c.Realtime },
		"queue-size":      func() { conf.QueueSize = c.QueueSize },
		"queue-policy":    func() { conf.QueuePolicy = c.QueuePolicy },
		"log-db":          func() { conf.LogDB = c.LogDB },
		"log-level":       func() { conf.LogLevel = c.LogLevel },
		"status-interval": func() { conf.StatusInterval = c.StatusInterval },
		"session":         func() { conf.Session = c.Session },
	}
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "framerate" {
			rate, parseErr := framerate.Parse(opts.framerate)
			if parseErr != nil {
				err = parseErr
				return
			}
			conf.Framerate = rate
		}
		if override, ok := overrides[f.Name]; ok {
			override()
		}
	})
	if err != nil {
		return config.Config{}, err
	}

	if err := conf.FillDefaults(); err != nil {
		return config.Config{}, err
	}
	if err := conf.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return conf, nil
}

var effectCycle = []effect.Kind{effect.Passthrough, effect.GrayCycle, effect.ColorCycle}

func runRecord(ctx context.Context, conf config.Config, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := mp4rec.NewApp(conf, cmd.OutOrStdout())

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		kind := conf.EffectKind()
		for {
			select {
			case <-usr1:
				kind = nextEffect(kind)
				app.SwitchEffect(kind)
			case <-ctx.Done():
				return
			}
		}
	}()

	res, err := app.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v: %d samples, %v\n", conf.Output, res.Stats.Samples, res.Stats.Duration)
	return nil
}

// nextEffect returns the next effect. Effects that need RGB input
// are only reached when the session records RGB frames.
func nextEffect(kind effect.Kind) effect.Kind {
	for i, k := range effectCycle {
		if k == kind {
			return effectCycle[(i+1)%len(effectCycle)]
		}
	}
	return effect.Passthrough
}
