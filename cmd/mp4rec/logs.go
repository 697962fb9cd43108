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
	"io"
	"sync"
	"time"

	"mp4rec/pkg/log"

	"github.com/spf13/cobra"
)

type logsOptions struct {
	db       string
	level    string
	sources  []string
	sessions []string
	limit    int
}

func newLogsCommand() *cobra.Command {
	opts := &logsOptions{}

	cmd := &cobra.Command{
		Use:     "logs",
		Short:   "Print saved logs, newest first",
		Example: `  mp4rec logs --db logs.db --level warning --session cam1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printLogs(cmd.OutOrStdout(), *opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.db, "db", "", "log database")
	flags.StringVar(&opts.level, "level", "debug", "maximum log level")
	flags.StringSliceVar(&opts.sources, "source", nil, "only these sources")
	flags.StringSliceVar(&opts.sessions, "session", nil, "only these sessions")
	flags.IntVar(&opts.limit, "limit", 100, "maximum number of entries")
	cmd.MarkFlagRequired("db") //nolint:errcheck

	return cmd
}

var allLevels = []log.Level{log.LevelError, log.LevelWarning, log.LevelInfo, log.LevelDebug}

func printLogs(w io.Writer, opts logsOptions) error {
	maxLevel, err := log.ParseLevel(opts.level)
	if err != nil {
		return err
	}
	var levels []log.Level
	for _, l := range allLevels {
		if l <= maxLevel {
			levels = append(levels, l)
		}
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		wg.Wait()
	}()

	db := log.NewDB(opts.db, &wg)
	if err := db.Init(ctx); err != nil {
		return err
	}

	logs, err := db.Query(log.Query{
		Levels:   levels,
		Sources:  opts.sources,
		Sessions: opts.sessions,
		Limit:    opts.limit,
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	for _, entry := range logs {
		t := time.UnixMicro(int64(entry.Time))
		fmt.Fprintf(w, "%v %v\n", t.Format("2006-01-02 15:04:05.000"), entry)
	}
	return nil
}
