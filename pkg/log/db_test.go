package log

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) (*DB, context.CancelFunc) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "logs.db")

	wg := &sync.WaitGroup{}
	logDB := NewDB(dbPath, wg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, logDB.Init(ctx))

	return logDB, func() {
		cancel()
		wg.Wait()
	}
}

func TestQuery(t *testing.T) {
	msg1 := Log{
		Level:   LevelError,
		Time:    4000,
		Src:     "s1",
		Session: "m1",
		Msg:     "msg1",
	}
	msg2 := Log{
		Level: LevelWarning,
		Time:  3000,
		Src:   "s1",
		Msg:   "msg2",
	}
	msg3 := Log{
		Level:   LevelInfo,
		Time:    2000,
		Src:     "s2",
		Session: "m2",
		Msg:     "msg3",
	}

	logDB, cancel := newTestDB(t)
	defer cancel()

	require.NoError(t, logDB.saveLog(msg3))
	require.NoError(t, logDB.saveLog(msg2))
	require.NoError(t, logDB.saveLog(msg1))

	cases := []struct {
		name     string
		input    Query
		expected []Log
	}{
		{
			name: "singleLevel",
			input: Query{
				Levels:  []Level{LevelWarning},
				Sources: []string{"s1"},
			},
			expected: []Log{msg2},
		},
		{
			name: "multipleLevels",
			input: Query{
				Levels:  []Level{LevelError, LevelWarning},
				Sources: []string{"s1"},
			},
			expected: []Log{msg1, msg2},
		},
		{
			name: "multipleSources",
			input: Query{
				Levels:  []Level{LevelError, LevelInfo},
				Sources: []string{"s1", "s2"},
			},
			expected: []Log{msg1, msg3},
		},
		{
			name: "singleSession",
			input: Query{
				Sessions: []string{"m1"},
			},
			expected: []Log{msg1},
		},
		{
			name:     "all",
			input:    Query{},
			expected: []Log{msg1, msg2, msg3},
		},
		{
			name:     "limit",
			input:    Query{Limit: 2},
			expected: []Log{msg1, msg2},
		},
		{
			name: "limit2",
			input: Query{
				Levels: []Level{LevelInfo},
				Limit:  1,
			},
			expected: []Log{msg3},
		},
		{
			name:     "exactTime",
			input:    Query{Time: 4000},
			expected: []Log{msg2, msg3},
		},
		{
			name:     "time",
			input:    Query{Time: 3500},
			expected: []Log{msg2, msg3},
		},
		{
			name:     "afterLast",
			input:    Query{Time: 9000},
			expected: []Log{msg1, msg2, msg3},
		},
		{
			name:     "beforeFirst",
			input:    Query{Time: 1000},
			expected: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			logs, err := logDB.Query(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, logs)
		})
	}
}

func TestQueryUnmarshalErr(t *testing.T) {
	logDB, cancel := newTestDB(t)
	defer cancel()

	err := logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(dbAPIversion))
		return b.Put(encodeKey(1), []byte("nil"))
	})
	require.NoError(t, err)

	_, err = logDB.Query(Query{})
	require.Error(t, err)
}

func TestDB(t *testing.T) {
	t.Run("maxKeys", func(t *testing.T) {
		logDB, cancel := newTestDB(t)
		defer cancel()

		logDB.maxKeys = 3

		for i := 1; i <= 5; i++ {
			require.NoError(t, logDB.saveLog(Log{Time: UnixMicro(i)}))
		}

		err := logDB.db.View(func(tx *bolt.Tx) error {
			keyN := tx.Bucket([]byte(dbAPIversion)).Stats().KeyN
			require.Equal(t, logDB.maxKeys, keyN)
			return nil
		})
		require.NoError(t, err)

		logs, err := logDB.Query(Query{})
		require.NoError(t, err)
		require.Equal(t, []Log{{Time: 5}, {Time: 4}, {Time: 3}}, logs)
	})
	t.Run("equalTimes", func(t *testing.T) {
		logDB, cancel := newTestDB(t)
		defer cancel()

		require.NoError(t, logDB.saveLog(Log{Time: 10, Msg: "a"}))
		require.NoError(t, logDB.saveLog(Log{Time: 10, Msg: "b"}))

		logs, err := logDB.Query(Query{})
		require.NoError(t, err)
		require.Len(t, logs, 2)
		require.Equal(t, "b", logs[0].Msg)
	})
	t.Run("openDBerr", func(t *testing.T) {
		logDB := NewDB("/dev/null", &sync.WaitGroup{})
		require.Error(t, logDB.Init(context.Background()))
	})
	t.Run("saveLogs", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logger := NewMockLogger()
		logger.Start(ctx)

		logDB, cancel2 := newTestDB(t)
		defer cancel2()

		saveCtx, saveCancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			logDB.SaveLogs(saveCtx, logger)
			close(done)
		}()

		// Messages sent before SaveLogs subscribes are lost.
		require.Eventually(t, func() bool {
			logger.Info().Src("packager").Msg("saved")
			logs, err := logDB.Query(Query{Sources: []string{"packager"}})
			return err == nil && len(logs) > 0
		}, time.Second, 5*time.Millisecond)

		saveCancel()
		<-done
	})
}
