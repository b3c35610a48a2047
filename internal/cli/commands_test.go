package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncboard/internal/config"
	"github.com/roach88/syncboard/internal/httpapi"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/syncclient"
	"github.com/roach88/syncboard/internal/template"
)

// newTestServer serves a fresh app over a temporary SQLite file.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		StoreDriver:  "sqlite3",
		StoreDSN:     filepath.Join(t.TempDir(), "syncboard.db"),
		LogLimit:     10,
		HubBuffer:    64,
		PingInterval: time.Second,
		ReadTimeout:  5 * time.Second,
	}
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)

	srv := httptest.NewServer(a.server.Handler())
	t.Cleanup(func() {
		a.hub.Close()
		srv.Close()
		_ = a.Close()
	})
	return srv
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func createTestRoom(t *testing.T, serverURL string) room.Room {
	t.Helper()
	r, err := httpapi.NewClient(serverURL, nil).CreateRoom(context.Background(), httpapi.CreateRoomRequest{
		Preset:       "simple",
		HostID:       "alice",
		Participants: []string{"bob"},
	})
	require.NoError(t, err)
	return r
}

func TestRoomCreateJSON(t *testing.T) {
	srv := newTestServer(t)

	out, err := runCLI(t, context.Background(),
		"--server", srv.URL, "--format", "json",
		"room", "create", "--template", "mahjong", "--host", "alice", "--participant", "bob", "--participant", "carol")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   room.Room `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "mahjong", resp.Data.Template.Name)
	assert.Equal(t, room.StatusWaiting, resp.Data.Status)
	assert.Equal(t, room.Seats{"alice", "bob", "carol", ""}, resp.Data.Seats)
	assert.Equal(t, 25000.0, resp.Data.State.Balance("carol", "points"))
}

func TestRoomCreateFromTemplateFile(t *testing.T) {
	srv := newTestServer(t)

	out, err := runCLI(t, context.Background(),
		"--server", srv.URL,
		"room", "create", "--template", filepath.Join("..", "harness", "testdata", "templates", "poker.cue"), "--host", "ann")
	require.NoError(t, err)
	assert.Contains(t, out, "Template: poker")
	assert.Contains(t, out, "chips=1000")
	assert.Contains(t, out, "Table")
}

func TestRoomCreateMissingTemplateFile(t *testing.T) {
	_, err := runCLI(t, context.Background(),
		"--server", "http://127.0.0.1:1",
		"room", "create", "--template", "missing.yaml", "--host", "ann")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoomLifecycle(t *testing.T) {
	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)
	ctx := context.Background()

	out, err := runCLI(t, ctx, "--server", srv.URL, "room", "show", r.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Room "+r.ID)
	assert.Contains(t, out, "Status:   waiting")
	assert.Contains(t, out, "score=0")

	out, err = runCLI(t, ctx, "--server", srv.URL, "room", "find", r.JoinCode)
	require.NoError(t, err)
	assert.Contains(t, out, "Room "+r.ID)

	out, err = runCLI(t, ctx, "--server", srv.URL, "room", "join", r.ID, "carol")
	require.NoError(t, err)
	assert.Contains(t, out, "alice, bob, carol")

	out, err = runCLI(t, ctx, "--server", srv.URL, "room", "status", r.ID, "playing")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   playing")

	out, err = runCLI(t, ctx, "--server", srv.URL, "room", "delete", r.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deleted room "+r.ID+"\n", out)

	out, err = runCLI(t, ctx, "--server", srv.URL, "--format", "json", "room", "show", r.ID)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"code":"E_HTTP_404"`)
}

func TestRoomTemplate(t *testing.T) {
	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)
	ctx := context.Background()

	out, err := runCLI(t, ctx, "--server", srv.URL,
		"room", "template", r.ID, "--template", filepath.Join("..", "harness", "testdata", "templates", "poker.cue"))
	require.NoError(t, err)
	assert.Contains(t, out, "Template: poker")
	assert.Contains(t, out, "chips=1000")
	assert.Contains(t, out, "Seats:    alice, bob, -, -, -, -\n")

	out, err = runCLI(t, ctx, "--server", srv.URL, "--format", "json", "room", "template", r.ID, "--template", "mahjong")
	require.NoError(t, err)
	var resp struct {
		Data room.Room `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "mahjong", resp.Data.Template.Name)
	assert.Equal(t, 25000.0, resp.Data.State.Balance("bob", "points"))
	assert.Equal(t, 1000.0, resp.Data.State.Balance("bob", "chips"))
}

func TestRoomTemplateRejected(t *testing.T) {
	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)

	path := filepath.Join(t.TempDir(), "solo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: solo\nvariables: [{key: score}]\nmax_players: 1\n"), 0o644))

	out, err := runCLI(t, context.Background(), "--server", srv.URL, "--format", "json",
		"room", "template", r.ID, "--template", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"code":"E_HTTP_400"`)

	_, err = runCLI(t, context.Background(), "--server", srv.URL, "room", "template", r.ID)
	require.Error(t, err, "--template is required")
}

func TestRoomStatusRejectsUnknownStatus(t *testing.T) {
	_, err := runCLI(t, context.Background(), "--server", "http://127.0.0.1:1", "room", "status", "r1", "paused")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid status "paused"`)
}

func TestUnreachableServer(t *testing.T) {
	_, err := runCLI(t, context.Background(), "--server", "http://127.0.0.1:1", "room", "show", "r1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOpAndHistory(t *testing.T) {
	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)
	ctx := context.Background()

	out, err := runCLI(t, ctx, "--server", srv.URL, "op", r.ID, "transfer",
		"--args", `{"from":"alice","to":"bob","lines":[{"variable":"score","amount":5}]}`)
	require.NoError(t, err)
	assert.Equal(t, "OK transfer\n", out)

	out, err = runCLI(t, ctx, "--server", srv.URL, "op", r.ID, "saveSettlement",
		"--args", `{"type":"adjustment","result":{"bob":2}}`)
	require.NoError(t, err)
	assert.Equal(t, "OK saveSettlement\n", out)

	out, err = runCLI(t, ctx, "--server", srv.URL, "history", r.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "alice → bob: score 5")
	assert.Contains(t, out, "[adjustment] bob +2")

	out, err = runCLI(t, ctx, "--server", srv.URL, "history", r.ID, "--settlements")
	require.NoError(t, err)
	assert.Contains(t, out, "adjustment")
	assert.Contains(t, out, "bob=2")

	out, err = runCLI(t, ctx, "--server", srv.URL, "op", r.ID, "undoLast")
	require.NoError(t, err)
	assert.Equal(t, "OK undoLast\n", out)

	out, err = runCLI(t, ctx, "--server", srv.URL, "--format", "json", "history", r.ID, "--settlements")
	require.NoError(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data)
}

func TestOpRejected(t *testing.T) {
	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)

	out, err := runCLI(t, context.Background(), "--server", srv.URL, "op", r.ID, "transfer",
		"--args", `{"from":"alice","to":"dave","lines":[{"variable":"score","amount":1}]}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [PLAYER_NOT_FOUND]: player dave not found")

	out, err = runCLI(t, context.Background(), "--server", srv.URL, "--format", "json", "op", r.ID, "undoLast")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"code":"NO_HISTORY"`)
}

func TestOpInvalidArgs(t *testing.T) {
	_, err := runCLI(t, context.Background(), "--server", "http://127.0.0.1:1", "op", "r1", "transfer", "--args", "{nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid --args JSON")
}

func TestWatchOnce(t *testing.T) {
	pterm.DisableColor()
	t.Cleanup(pterm.EnableColor)

	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := runCLI(t, ctx, "--server", srv.URL, "watch", r.ID, "--once")
	require.NoError(t, err)
	assert.Contains(t, out, "[synced] room "+r.ID)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "bob")
}

func TestWatchOnceJSON(t *testing.T) {
	srv := newTestServer(t)
	r := createTestRoom(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := runCLI(t, ctx, "--server", srv.URL, "--format", "json", "watch", r.ID, "--once")
	require.NoError(t, err)

	var last watchFrame
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &last))
	}
	assert.Equal(t, "synced", last.State)
	require.NotNil(t, last.Room)
	assert.Equal(t, r.ID, last.Room.ID)
}

func TestWatchMissingRoom(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := runCLI(t, ctx, "--server", srv.URL, "--format", "json", "watch", "no-such-room")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, syncclient.ErrRoomNotFound)
}

func TestRenderBoard(t *testing.T) {
	pterm.DisableColor()
	t.Cleanup(pterm.EnableColor)

	tmpl, ok := template.Preset("mahjong")
	require.True(t, ok)
	r := &room.Room{
		ID:       "r1",
		JoinCode: "123456",
		Status:   room.StatusPlaying,
		Template: tmpl,
		Seats:    room.Seats{"bob", "alice", "", ""},
		State: room.CurrentState{
			Players: map[string]room.PlayerState{
				"alice": {Values: map[string]float64{"points": 24000}},
				"bob":   {Values: map[string]float64{"points": 25000}},
			},
			Pot:       map[string]float64{"points": 1000},
			RecentLog: []string{"l1", "l2", "l3", "l4", "l5", "alice → Riichi Pot: points 1000"},
		},
	}

	board, err := renderBoard(syncclient.View{State: syncclient.StateSynced, Room: r, Failures: 2})
	require.NoError(t, err)

	assert.Contains(t, board, "[synced] room r1 (playing, code 123456)")
	assert.Contains(t, board, "2 failed refetches")
	assert.Contains(t, board, "Participant")
	assert.Contains(t, board, "Points")
	assert.Contains(t, board, "Riichi Pot")
	assert.Contains(t, board, "24000")
	assert.Contains(t, board, "alice → Riichi Pot: points 1000")
	assert.NotContains(t, board, "l1")
	assert.Less(t, strings.Index(board, "bob"), strings.Index(board, "alice"), "rows follow seat order")
}

func TestRenderBoardWithoutRoom(t *testing.T) {
	pterm.DisableColor()
	t.Cleanup(pterm.EnableColor)

	board, err := renderBoard(syncclient.View{State: syncclient.StateLoading})
	require.NoError(t, err)
	assert.Contains(t, board, "[loading]")
	assert.NotContains(t, board, "Participant")
}

func TestBoardOrder(t *testing.T) {
	r := room.Room{
		Seats: room.Seats{"carol", "", "alice"},
		State: room.CurrentState{Players: map[string]room.PlayerState{
			"alice": {Values: map[string]float64{}},
			"bob":   {Values: map[string]float64{}},
			"carol": {Values: map[string]float64{}},
		}},
	}
	assert.Equal(t, []string{"carol", "alice", "bob"}, boardOrder(r))
}

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Setenv("SYNCBOARD_OTEL_ENABLED", "false")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve", "--addr", "127.0.0.1:0", "--dsn", filepath.Join(t.TempDir(), "serve.db")})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Listening on http://127.0.0.1:")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestServeInvalidDriver(t *testing.T) {
	t.Setenv("SYNCBOARD_OTEL_ENABLED", "false")

	_, err := runCLI(t, context.Background(), "serve", "--addr", "127.0.0.1:0", "--driver", "mysql")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand(t *testing.T) {
	out, err := runCLI(t, context.Background(), "test", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ riichi_round")
	assert.Contains(t, out, "✓ settlement_undo")
	assert.Contains(t, out, "✓ custom_table")
	assert.Contains(t, out, "Test Summary: 3 passed, 0 failed, 3 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := runCLI(t, context.Background(), "--format", "json",
		"test", filepath.Join("..", "harness", "testdata", "scenarios"), "--filter", "riichi_*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "riichi_round", resp.Data.Scenarios[0].Name)
}

const goldenScenario = `name: quick
template: simple
participants: [alice, bob]
flow:
  - op: transfer
    args:
      from: alice
      to: bob
      lines: [{ variable: score, amount: 4 }]
assertions:
  - type: balance
    participant: bob
    variable: score
    value: 4
`

func TestTestCommandGoldenUpdate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quick.yaml"), []byte(goldenScenario), 0o644))
	ctx := context.Background()

	_, err := runCLI(t, ctx, "test", dir, "--update")
	require.NoError(t, err)
	goldenPath := filepath.Join(dir, "golden", "quick.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), "alice → bob: score 4")

	_, err = runCLI(t, ctx, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err := runCLI(t, ctx, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ quick")
	assert.Contains(t, out, "transcript does not match golden file")
}

func TestTestCommandFailingAssertion(t *testing.T) {
	dir := t.TempDir()
	broken := strings.Replace(goldenScenario, "value: 4", "value: 5", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quick.yaml"), []byte(broken), 0o644))

	out, err := runCLI(t, context.Background(), "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ quick")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandMissingDir(t *testing.T) {
	_, err := runCLI(t, context.Background(), "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
