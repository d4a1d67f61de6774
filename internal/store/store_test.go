package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/cifixd/internal/job"
)

func newRunningJob(t *testing.T) *job.Job {
	t.Helper()
	return job.New("https://github.com/acme/widgets", "team", "lead", 5)
}

func TestGet(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		s := New()
		_, err := s.Get("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("returns the latest snapshot", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)

		s.Publish(j.Snapshot())
		j.Progress.CurrentIteration = 2
		s.Publish(j.Snapshot())

		got, err := s.Get(j.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Progress.CurrentIteration)
	})

	t.Run("terminal snapshot stays retrievable", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		j.Status = job.StatusFailed
		s.Publish(j.Snapshot())

		got, err := s.Get(j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		s := New()
		_, _, err := s.Subscribe("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("current snapshot delivered immediately", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		s.Publish(j.Snapshot())

		ch, cancel, err := s.Subscribe(j.ID)
		require.NoError(t, err)
		defer cancel()

		select {
		case got := <-ch:
			assert.Equal(t, j.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("no snapshot delivered")
		}
	})

	t.Run("slow subscriber sees only the newest snapshot", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		s.Publish(j.Snapshot())

		ch, cancel, err := s.Subscribe(j.ID)
		require.NoError(t, err)
		defer cancel()

		// Intermediate snapshots published before the subscriber reads
		// anything are coalesced into the latest one.
		j.Progress.CurrentIteration = 1
		s.Publish(j.Snapshot())
		j.Progress.CurrentIteration = 2
		s.Publish(j.Snapshot())

		got := <-ch
		assert.Equal(t, 2, got.Progress.CurrentIteration)
	})

	t.Run("channel closes after terminal snapshot", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		s.Publish(j.Snapshot())

		ch, cancel, err := s.Subscribe(j.ID)
		require.NoError(t, err)
		defer cancel()

		j.Status = job.StatusCompleted
		s.Publish(j.Snapshot())

		got, ok := <-ch
		require.True(t, ok)
		assert.Equal(t, job.StatusCompleted, got.Status)

		_, ok = <-ch
		assert.False(t, ok, "channel should be closed after the terminal snapshot")
	})

	t.Run("subscribing to a terminal job yields one snapshot then closes", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		j.Status = job.StatusFailed
		s.Publish(j.Snapshot())

		ch, cancel, err := s.Subscribe(j.ID)
		require.NoError(t, err)
		defer cancel()

		got, ok := <-ch
		require.True(t, ok)
		assert.Equal(t, job.StatusFailed, got.Status)

		_, ok = <-ch
		assert.False(t, ok)
	})

	t.Run("cancel detaches the subscriber", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		s.Publish(j.Snapshot())

		ch, cancel, err := s.Subscribe(j.ID)
		require.NoError(t, err)

		<-ch
		cancel()
		cancel() // idempotent

		_, ok := <-ch
		assert.False(t, ok)

		// Publishing after cancellation must not panic or block.
		j.Progress.CurrentIteration = 1
		s.Publish(j.Snapshot())
	})

	t.Run("publish after terminal is ignored", func(t *testing.T) {
		s := New()
		j := newRunningJob(t)
		j.Status = job.StatusCompleted
		j.Progress.CurrentIteration = 3
		s.Publish(j.Snapshot())

		j.Progress.CurrentIteration = 4
		s.Publish(j.Snapshot())

		got, err := s.Get(j.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Progress.CurrentIteration)
	})
}
