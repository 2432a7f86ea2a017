// Package storetest provides a conformance suite for store.Store
// implementations.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/store"
)

// Records returns n sample records with ids starting at first.
func Records(first, n int) []model.Record {
	records := make([]model.Record, 0, n)
	for i := range n {
		id := first + i
		records = append(records, model.Record{
			ID:            id,
			Name:          "user",
			Age:           20 + id,
			Location:      "San Pablo, CA",
			About:         "about me",
			ProfilePicURL: "https://down-static.s3.us-west-2.amazonaws.com/picks_filter/female_v2/pic00001.jpg",
		})
	}
	return records
}

// TestStore runs the conformance suite. newStore must return an empty store
// on every call.
func TestStore(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("ReadEmpty", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ReadAll(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrLoad)
	})

	t.Run("WriteThenRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		want := Records(1, 3)

		require.NoError(t, s.WriteAll(ctx, want))

		got, err := s.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.WriteAll(ctx, Records(1, 2)))
		require.NoError(t, s.WriteAll(ctx, Records(3, 3)))

		got, err := s.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{3, 4, 5}, model.RecordIDs(got))
	})

	t.Run("WriteEmptyCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.WriteAll(ctx, Records(1, 2)))
		require.NoError(t, s.WriteAll(ctx, nil))

		got, err := s.ReadAll(ctx)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("ClearRemovesCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.WriteAll(ctx, Records(1, 2)))
		require.NoError(t, s.Clear(ctx))

		_, err := s.ReadAll(ctx)
		assert.ErrorIs(t, err, store.ErrLoad)
	})

	t.Run("ClearAbsentIsNoop", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Clear(context.Background()))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, s.WriteAll(ctx, Records(1, 1)), store.ErrInsert)
		_, err := s.ReadAll(ctx)
		assert.ErrorIs(t, err, store.ErrLoad)
		assert.ErrorIs(t, s.Clear(ctx), store.ErrDelete)
	})
}
