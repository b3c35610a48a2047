package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncboard/internal/room"
)

func TestUpdateRoom_WritesState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice", "bob")))

	got, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		tx.Room.State.Add("alice", "points", -1000)
		tx.Room.State.Add("bob", "points", 1000)
		tx.Room.State.AppendLog("alice → bob", 10)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 24000.0, got.State.Balance("alice", "points"))

	stored, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 24000.0, stored.State.Balance("alice", "points"))
	assert.Equal(t, 26000.0, stored.State.Balance("bob", "points"))
	assert.Equal(t, []string{"alice → bob"}, stored.State.RecentLog)
}

func TestUpdateRoom_BumpsVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	r := createTestRoom("room-1", "alice")
	r.Version = 1
	require.NoError(t, s.CreateRoom(ctx, r))

	for want := int64(2); want <= 4; want++ {
		got, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, want, got.Version)
	}

	stored, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)

	// A failed callback leaves the version alone.
	_, err = s.UpdateRoom(ctx, "room-1", func(tx *Tx) error { return errors.New("boom") })
	require.Error(t, err)
	stored, err = s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)
}

func TestUpdateRoom_WritesTemplate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice")))

	_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		tx.Room.Template.Name = "renamed"
		return nil
	})
	require.NoError(t, err)

	stored, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Template.Name)
}

func TestUpdateRoom_ErrorRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice")))

	boom := errors.New("boom")
	_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		if err := tx.AppendHistory(createTestEntry("h-1", 1, tx.Room.State.Clone())); err != nil {
			return err
		}
		tx.Room.State.Set("alice", "points", 0)
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 25000.0, stored.State.Balance("alice", "points"))

	entries, err := s.ListHistory(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdateRoom_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.UpdateRoom(context.Background(), "missing", func(tx *Tx) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRoom_ConcurrentCallsSerialize(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice", "bob")))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
				seq, err := tx.NextSeq()
				if err != nil {
					return err
				}
				e := createTestEntry(fmt.Sprintf("h-%d", seq), seq, tx.Room.State.Clone())
				if err := tx.AppendHistory(e); err != nil {
					return err
				}
				tx.Room.State.Add("alice", "points", -100)
				tx.Room.State.Add("bob", "points", 100)
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 25000.0-100*n, stored.State.Balance("alice", "points"))
	assert.Equal(t, 50000.0, stored.State.Total("points"))

	entries, err := s.ListHistory(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestTx_LastHistoryAndDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice")))

	_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		_, ok, err := tx.LastHistory()
		require.NoError(t, err)
		assert.False(t, ok)

		for _, id := range []string{"h-1", "h-2"} {
			seq, err := tx.NextSeq()
			if err != nil {
				return err
			}
			if err := tx.AppendHistory(createTestEntry(id, seq, tx.Room.State.Clone())); err != nil {
				return err
			}
		}
		last, ok, err := tx.LastHistory()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "h-2", last.ID)
		assert.Equal(t, int64(2), last.Seq)

		if err := tx.DeleteHistory("h-2"); err != nil {
			return err
		}
		assert.ErrorIs(t, tx.DeleteHistory("h-2"), ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	entries, err := s.ListHistory(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h-1", entries[0].ID)
	assert.Equal(t, "room-1", entries[0].RoomID)
	assert.Equal(t, room.KindTransfer, entries[0].Kind)
	assert.Equal(t, 25000.0, entries[0].Snapshot.Balance("alice", "points"))
}

func TestSettlement_RequiresHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice")))

	_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		return tx.InsertSettlement(room.Settlement{
			ID: "s-1", HistoryID: "nope", Type: room.SettlementAdjustment,
			Result: map[string]float64{"alice": 1},
		})
	})
	require.Error(t, err)

	settlements, err := s.ListSettlements(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, settlements)
}

func TestSettlement_CascadesWithHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice", "bob")))

	_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		e := createTestEntry("h-1", 1, tx.Room.State.Clone())
		e.Kind = room.KindSettlement
		if err := tx.AppendHistory(e); err != nil {
			return err
		}
		return tx.InsertSettlement(room.Settlement{
			ID: "s-1", HistoryID: "h-1", Timestamp: e.Timestamp,
			Type:   room.SettlementRoundResult,
			Result: map[string]float64{"alice": 15.5, "bob": -15.5},
		})
	})
	require.NoError(t, err)

	settlements, err := s.ListSettlements(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, "h-1", settlements[0].HistoryID)
	assert.Equal(t, room.SettlementRoundResult, settlements[0].Type)
	assert.Equal(t, map[string]float64{"alice": 15.5, "bob": -15.5}, settlements[0].Result)

	_, err = s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		return tx.DeleteHistory("h-1")
	})
	require.NoError(t, err)

	settlements, err = s.ListSettlements(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, settlements)
}
