package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/syncboard/internal/httpapi"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/template"
)

// RoomOptions holds flags for the room subcommands.
type RoomOptions struct {
	*RootOptions
	Template     string
	Replacement  string
	Host         string
	Participants []string
	Seat         int
}

// NewRoomCommand creates the room command group.
func NewRoomCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RoomOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "room",
		Short: "Create, inspect and manage rooms",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a room from a preset or template file",
		Long: `Create a room. --template takes a preset name or a .yaml/.cue file.

Example:
  syncboard room create --template mahjong --host alice --participant bob
  syncboard room create --template ./poker.cue --host ann`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createRoom(opts, cmd)
		},
	}
	create.Flags().StringVar(&opts.Template, "template", "simple", "preset name or template file")
	create.Flags().StringVar(&opts.Host, "host", "", "host participant id (required)")
	create.Flags().StringSliceVar(&opts.Participants, "participant", nil, "additional participant (repeatable)")
	_ = create.MarkFlagRequired("host")

	show := &cobra.Command{
		Use:           "show <room-id>",
		Short:         "Show a room's seats and balances",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts.RootOptions, cmd, "failed to load room", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
				r, err := c.GetRoom(ctx, args[0])
				return r, roomRenderer(r), err
			})
		},
	}

	find := &cobra.Command{
		Use:           "find <join-code>",
		Short:         "Find an open room by join code",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts.RootOptions, cmd, "failed to find room", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
				r, err := c.FindByCode(ctx, args[0])
				return r, roomRenderer(r), err
			})
		},
	}

	join := &cobra.Command{
		Use:           "join <room-id> <participant-id>",
		Short:         "Seat a participant (first free seat unless --seat is given)",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var seat *int
			if cmd.Flags().Changed("seat") {
				seat = &opts.Seat
			}
			return withClient(opts.RootOptions, cmd, "failed to join room", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
				r, err := c.Join(ctx, args[0], args[1], seat)
				return r, roomRenderer(r), err
			})
		},
	}
	join.Flags().IntVar(&opts.Seat, "seat", 0, "seat index")

	status := &cobra.Command{
		Use:           "status <room-id> <waiting|playing|finished>",
		Short:         "Change a room's status",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := room.Status(args[1])
			if !st.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", args[1]))
			}
			return withClient(opts.RootOptions, cmd, "failed to set status", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
				r, err := c.SetStatus(ctx, args[0], st)
				return r, roomRenderer(r), err
			})
		},
	}

	del := &cobra.Command{
		Use:           "delete <room-id>",
		Short:         "Delete a room with its history and settlements",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts.RootOptions, cmd, "failed to delete room", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
				err := c.DeleteRoom(ctx, args[0])
				data := map[string]string{"deleted": args[0]}
				return data, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Deleted room %s\n", args[0])
					return err
				}, err
			})
		},
	}

	tmpl := &cobra.Command{
		Use:   "template <room-id>",
		Short: "Replace a room's template",
		Long: `Replace a room's template. --template takes a preset name or a .yaml/.cue file.

Participants keep their balances and gain any new variables at their
initial values.

Example:
  syncboard room template 01HX... --template ./house-rules.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateTemplate(opts, cmd, args[0])
		},
	}
	tmpl.Flags().StringVar(&opts.Replacement, "template", "", "preset name or template file (required)")
	_ = tmpl.MarkFlagRequired("template")

	cmd.AddCommand(create, show, find, join, status, tmpl, del)
	return cmd
}

func createRoom(opts *RoomOptions, cmd *cobra.Command) error {
	req := httpapi.CreateRoomRequest{HostID: opts.Host, Participants: opts.Participants}
	preset, tmpl, err := templateArg(opts.Template)
	if err != nil {
		return err
	}
	req.Preset, req.Template = preset, tmpl

	return withClient(opts.RootOptions, cmd, "failed to create room", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
		r, err := c.CreateRoom(ctx, req)
		return r, roomRenderer(r), err
	})
}

func updateTemplate(opts *RoomOptions, cmd *cobra.Command, roomID string) error {
	preset, tmpl, err := templateArg(opts.Replacement)
	if err != nil {
		return err
	}
	req := httpapi.TemplateRequest{Preset: preset, Template: tmpl}

	return withClient(opts.RootOptions, cmd, "failed to update template", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
		r, err := c.UpdateTemplate(ctx, roomID, req)
		return r, roomRenderer(r), err
	})
}

// templateArg sends presets by name and loads anything else from disk.
func templateArg(nameOrPath string) (string, *room.Template, error) {
	if _, ok := template.Preset(nameOrPath); ok {
		return nameOrPath, nil, nil
	}
	t, err := template.Load(nameOrPath)
	if err != nil {
		return "", nil, WrapExitError(ExitCommandError, "failed to load template", err)
	}
	return "", &t, nil
}

// withClient runs call against the selected server and prints its result.
func withClient(opts *RootOptions, cmd *cobra.Command, failMsg string, call func(context.Context, *httpapi.Client) (any, func(io.Writer) error, error)) error {
	c, err := opts.client()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := newFormatter(cmd, opts)
	data, render, err := call(ctx, c)
	if err != nil {
		return out.Fail(failMsg, err)
	}
	return out.Success(data, render)
}

func roomRenderer(r room.Room) func(io.Writer) error {
	return func(w io.Writer) error {
		printRoom(w, r)
		return nil
	}
}

// printRoom writes a plain-text summary of r.
func printRoom(w io.Writer, r room.Room) {
	fmt.Fprintf(w, "Room %s\n", r.ID)
	fmt.Fprintf(w, "  Code:     %s\n", r.JoinCode)
	fmt.Fprintf(w, "  Status:   %s\n", r.Status)
	fmt.Fprintf(w, "  Template: %s\n", r.Template.Name)

	seats := make([]string, len(r.Seats))
	for i, s := range r.Seats {
		if s == "" {
			s = "-"
		}
		seats[i] = s
	}
	fmt.Fprintf(w, "  Seats:    %s\n", strings.Join(seats, ", "))

	fmt.Fprintln(w, "  Balances:")
	for _, id := range r.State.Participants() {
		fmt.Fprintf(w, "    %-12s %s\n", id, formatValues(r.Template, r.State.Players[id].Values))
	}
	if r.Template.Pot.Enabled || len(r.State.Pot) > 0 {
		fmt.Fprintf(w, "    %-12s %s\n", r.Template.PotLabel(), formatValues(r.Template, r.State.Pot))
	}
}

// formatValues renders values in template variable order.
func formatValues(t room.Template, values map[string]float64) string {
	parts := make([]string, 0, len(t.Variables))
	for _, v := range t.Variables {
		parts = append(parts, v.Key+"="+room.FormatValue(values[v.Key]))
	}
	return strings.Join(parts, " ")
}
