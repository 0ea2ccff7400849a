package logstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	return s
}

func TestWriterAndReadMergesStreamsInOrder(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Writer("c1")
	require.NoError(t, err)

	require.NoError(t, w.WriteLine("stdout", "hi"))
	time.Sleep(time.Millisecond)
	require.NoError(t, w.WriteLine("stderr", "oops"))
	require.NoError(t, w.Close())

	recs, err := s.Read("c1", ReadOptions{Stdout: true, Stderr: true, Tail: TailAll})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "hi", recs[0].Log)
	require.Equal(t, "oops", recs[1].Log)
}

func TestReadTailLimitsPerStream(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Writer("c1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.WriteLine("stdout", "line"))
	}
	require.NoError(t, w.Close())

	recs, err := s.Read("c1", ReadOptions{Stdout: true, Tail: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)
}

func TestReadMissingContainerReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	recs, err := s.Read("nope", ReadOptions{Stdout: true, Stderr: true, Tail: TailAll})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestFollowReplaysHistoryThenStreamsLive(t *testing.T) {
	s := newTestStore(t)
	w, err := s.Writer("c1")
	require.NoError(t, err)
	require.NoError(t, w.WriteLine("stdout", "past"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []Record
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Follow(ctx, "c1", ReadOptions{Stdout: true, Tail: TailAll}, func(r Record) {
			got = append(got, r)
			if len(got) == 2 {
				cancel()
			}
		})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.WriteLine("stdout", "live"))
	<-done
	require.NoError(t, w.Close())

	require.Len(t, got, 2)
	require.Equal(t, "past", got[0].Log)
	require.Equal(t, "live", got[1].Log)
}
