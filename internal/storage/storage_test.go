package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "vice/pkg/logx"
)

func sampleRun(job string, i int) Run {
	at := time.Date(2030, 1, 1, 0, 0, i, 0, time.UTC)
	return Run{
		ID:         fmt.Sprintf("%s-%d", job, i),
		Job:        job,
		Reason:     "ScheduleDueTime",
		Status:     "succeeded",
		DueTime:    at,
		StartedAt:  at,
		FinishedAt: at.Add(time.Second),
		TookMS:     1000,
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
}

func TestStores(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "state", "vice.db")
			cfg := Config{Driver: driver, Path: path, Keep: 3, BusyTimeout: time.Second}
			ctx := context.Background()

			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendRun(ctx, sampleRun("a", i)))
			}
			failed := sampleRun("b", 0)
			failed.Status = "failed"
			failed.Error = "exit status 1"
			require.NoError(t, st.AppendRun(ctx, failed))

			runs, err := st.RecentRuns(ctx, "b", 10)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			require.Equal(t, failed, runs[0])

			runs, err = st.RecentRuns(ctx, "a", 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			require.Equal(t, "a-4", runs[0].ID)
			require.Equal(t, "a-3", runs[1].ID)

			runs, err = st.RecentRuns(ctx, "missing", 0)
			require.NoError(t, err)
			require.Empty(t, runs)
			require.NoError(t, st.Close())

			reopened, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer reopened.Close()
			runs, err = reopened.RecentRuns(ctx, "a", 1)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			require.Equal(t, "a-4", runs[0].ID)
		})
	}
}

func TestFileStoreKeepsLastRuns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vice.json")
	st, err := Open(Config{Driver: "file", Path: path, Keep: 2}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, st.AppendRun(ctx, sampleRun("a", i)))
	}
	runs, err := st.RecentRuns(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "a-3", runs[0].ID)
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "x.db")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AppendRun(context.Background(), sampleRun("a", 0)), ErrClosed)
}
