package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roach88/syncboard/internal/httpapi"
	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/syncclient"
)

// watchLogLines is how many recent-operation lines the board shows.
const watchLogLines = 5

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Once bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <room-id>",
		Short: "Follow a room live",
		Long: `Follow a room through the sync client and print the scoreboard on
every change. The client refetches on notifications, degrades while the
notification channel is down and resynchronises when it returns.

Exits with 1 when the room is deleted or cannot be resolved.

Example:
  syncboard watch ROOM
  syncboard watch ROOM --format json
  syncboard watch ROOM --once`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit after the first synced board")

	return cmd
}

func runWatch(opts *WatchOptions, roomID string, cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	serverURL := cfg.ServerURL
	if opts.Server != "" {
		serverURL = opts.Server
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	// OnChange only signals; the loop reads the latest snapshot, so bursts
	// of changes collapse into one render.
	changed := make(chan struct{}, 1)
	client := syncclient.New(
		httpapi.NewClient(serverURL, nil),
		notify.NewWSChannel(serverURL, cfg.ReadTimeout),
		cfg.Sync.ClientConfig(),
		syncclient.WithRoomID(roomID),
		syncclient.WithOnChange(func(syncclient.View) {
			select {
			case changed <- struct{}{}:
			default:
			}
		}),
	)
	defer client.Close()

	out := newFormatter(cmd, opts.RootOptions)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
		}

		v := client.Snapshot()
		if err := writeView(out, v); err != nil {
			return err
		}
		switch {
		case v.State == syncclient.StateTornDown:
			return WrapExitError(ExitFailure, "room unavailable", v.Err)
		case opts.Once && v.State == syncclient.StateSynced:
			return nil
		}
	}
}

// watchFrame is the JSON form of one view.
type watchFrame struct {
	State       string     `json:"state"`
	Room        *room.Room `json:"room,omitempty"`
	Error       string     `json:"error,omitempty"`
	Reconnected bool       `json:"reconnected,omitempty"`
	Failures    int        `json:"failures,omitempty"`
}

func writeView(out *OutputFormatter, v syncclient.View) error {
	if out.Format == "json" {
		frame := watchFrame{
			State:       v.State.String(),
			Room:        v.Room,
			Reconnected: v.Reconnected,
			Failures:    v.Failures,
		}
		if v.Err != nil {
			frame.Error = v.Err.Error()
		}
		return json.NewEncoder(out.Writer).Encode(frame)
	}

	board, err := renderBoard(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out.Writer, board)
	return err
}

// renderBoard draws the status line, the balance table and the recent log.
func renderBoard(v syncclient.View) (string, error) {
	var b strings.Builder
	b.WriteString(statusLine(v))
	b.WriteString("\n")

	if v.Room == nil {
		return b.String(), nil
	}
	r := v.Room

	header := []string{"Participant"}
	for _, variable := range r.Template.Variables {
		header = append(header, variable.Label)
	}
	data := pterm.TableData{header}
	for _, id := range boardOrder(*r) {
		data = append(data, boardRow(r.Template, id, r.State.Players[id].Values))
	}
	if r.Template.Pot.Enabled || len(r.State.Pot) > 0 {
		data = append(data, boardRow(r.Template, r.Template.PotLabel(), r.State.Pot))
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	b.WriteString(table)
	b.WriteString("\n")

	if log := r.State.RecentLog; len(log) > 0 {
		if len(log) > watchLogLines {
			log = log[len(log)-watchLogLines:]
		}
		b.WriteString(pterm.DefaultBox.WithTitle("Recent").Sprint(strings.Join(log, "\n")))
		b.WriteString("\n")
	}
	return b.String(), nil
}

func statusLine(v syncclient.View) string {
	var state string
	switch v.State {
	case syncclient.StateSynced:
		state = pterm.LightGreen(v.State.String())
	case syncclient.StateDegraded, syncclient.StateLoading:
		state = pterm.LightYellow(v.State.String())
	case syncclient.StateTornDown:
		state = pterm.LightRed(v.State.String())
	default:
		state = v.State.String()
	}

	parts := []string{"[" + state + "]"}
	if v.Room != nil {
		parts = append(parts, fmt.Sprintf("room %s (%s, code %s)", v.Room.ID, v.Room.Status, v.Room.JoinCode))
	}
	if v.Reconnected {
		parts = append(parts, pterm.LightCyan("reconnected"))
	}
	if v.Failures > 0 {
		parts = append(parts, fmt.Sprintf("%d failed refetches", v.Failures))
	}
	if v.Err != nil {
		parts = append(parts, pterm.LightRed(v.Err.Error()))
	}
	return strings.Join(parts, " ")
}

// boardOrder lists seated participants in seat order, then any remaining
// state entries sorted by id.
func boardOrder(r room.Room) []string {
	seen := make(map[string]bool, len(r.Seats))
	var ids []string
	for _, id := range r.Seats {
		if id == "" || !r.State.HasParticipant(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range r.State.Participants() {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func boardRow(t room.Template, name string, values map[string]float64) []string {
	row := []string{name}
	for _, variable := range t.Variables {
		row = append(row, room.FormatValue(values[variable.Key]))
	}
	return row
}
