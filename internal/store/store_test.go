package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncboard/internal/room"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("user_version", "2"); err != nil {
		t.Error(err)
	}
}

func TestOpenDriver_Unknown(t *testing.T) {
	_, err := OpenDriver(context.Background(), "mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE x = ? AND y = ?"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", postgresDialect.rebind(q))
}

func TestCreateAndGetRoom(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	r := createTestRoom("room-1", "alice", "bob")
	require.NoError(t, s.CreateRoom(ctx, r))

	got, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.JoinCode, got.JoinCode)
	assert.Equal(t, r.Status, got.Status)
	assert.Equal(t, r.Seats, got.Seats)
	assert.Equal(t, r.Template, got.Template)
	assert.Equal(t, r.State.Clone(), got.State.Clone())
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
}

func TestGetRoom_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.GetRoom(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRoom() error = %v, want ErrNotFound", err)
	}
}

func TestFindRoomByCode_SkipsFinished(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	finished := createTestRoom("room-old", "alice")
	finished.Status = room.StatusFinished
	require.NoError(t, s.CreateRoom(ctx, finished))

	_, err := s.FindRoomByCode(ctx, "123456")
	assert.ErrorIs(t, err, ErrNotFound)

	live := createTestRoom("room-new", "bob")
	require.NoError(t, s.CreateRoom(ctx, live))

	got, err := s.FindRoomByCode(ctx, "123456")
	require.NoError(t, err)
	assert.Equal(t, "room-new", got.ID)
}

func TestSetStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice")))

	require.NoError(t, s.SetStatus(ctx, "room-1", room.StatusPlaying))
	got, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, room.StatusPlaying, got.Status)
	assert.Equal(t, int64(1), got.Version)

	assert.ErrorIs(t, s.SetStatus(ctx, "missing", room.StatusPlaying), ErrNotFound)
}

func TestOpen_MigratesVersionColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	// Lay down a version 1 rooms table by hand.
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP TABLE settlements")
	require.NoError(t, err)
	_, err = s.db.Exec("DROP TABLE history")
	require.NoError(t, err)
	_, err = s.db.Exec("DROP TABLE rooms")
	require.NoError(t, err)
	_, err = s.db.Exec(`CREATE TABLE rooms (
		id TEXT PRIMARY KEY, join_code TEXT NOT NULL, host_id TEXT NOT NULL,
		status TEXT NOT NULL, template TEXT NOT NULL, seats TEXT NOT NULL,
		current_state TEXT NOT NULL, created_at INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.verifyPragma("user_version", "2"))

	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, createTestRoom("room-1", "alice")))
	got, err := s.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
}

func TestDeleteRoom_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	r := createTestRoom("room-1", "alice", "bob")
	require.NoError(t, s.CreateRoom(ctx, r))

	_, err := s.UpdateRoom(ctx, "room-1", func(tx *Tx) error {
		e := createTestEntry("h-1", 1, tx.Room.State.Clone())
		if err := tx.AppendHistory(e); err != nil {
			return err
		}
		return tx.InsertSettlement(room.Settlement{
			ID: "s-1", HistoryID: "h-1", Timestamp: e.Timestamp,
			Type: room.SettlementRoundResult, Result: map[string]float64{"alice": 10},
		})
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRoom(ctx, "room-1"))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM history").Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM settlements").Scan(&n))
	assert.Zero(t, n)

	assert.ErrorIs(t, s.DeleteRoom(ctx, "room-1"), ErrNotFound)
}
