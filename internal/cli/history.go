package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/syncboard/internal/httpapi"
	"github.com/roach88/syncboard/internal/room"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Settlements bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <room-id>",
		Short: "Print a room's history in order",
		Long: `Print a room's history entries in seq order, oldest first.

With --settlements, print the stored settlements instead.

Example:
  syncboard history ROOM
  syncboard history ROOM --settlements --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Settlements {
				return withClient(opts.RootOptions, cmd, "failed to load settlements", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
					list, err := c.Settlements(ctx, args[0])
					return list, settlementsRenderer(list), err
				})
			}
			return withClient(opts.RootOptions, cmd, "failed to load history", func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
				entries, err := c.History(ctx, args[0])
				return entries, historyRenderer(entries), err
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Settlements, "settlements", false, "list settlements instead of history")

	return cmd
}

func historyRenderer(entries []room.HistoryEntry) func(io.Writer) error {
	return func(w io.Writer) error {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No history.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%4d  %s  %-10s  %s\n", e.Seq, e.Timestamp.Format("15:04:05"), e.Kind, e.Message)
		}
		return nil
	}
}

func settlementsRenderer(list []room.Settlement) func(io.Writer) error {
	return func(w io.Writer) error {
		if len(list) == 0 {
			fmt.Fprintln(w, "No settlements.")
			return nil
		}
		for _, s := range list {
			ids := make([]string, 0, len(s.Result))
			for id := range s.Result {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			parts := make([]string, 0, len(ids))
			for _, id := range ids {
				parts = append(parts, id+"="+room.FormatValue(s.Result[id]))
			}
			fmt.Fprintf(w, "%s  %-12s  %s\n", s.Timestamp.Format("15:04:05"), s.Type, strings.Join(parts, " "))
		}
		return nil
	}
}
