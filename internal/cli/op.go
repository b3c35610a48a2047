package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/syncboard/internal/httpapi"
	"github.com/roach88/syncboard/internal/ledger"
)

// OpOptions holds flags for the op command.
type OpOptions struct {
	*RootOptions
	Args string
}

// NewOpCommand creates the op command.
func NewOpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "op <room-id> <operation>",
		Short: "Invoke a ledger operation on a room",
		Long: `Invoke a ledger operation on a room of a running server.

Operations: transfer, forceEdit, reset, saveSettlement, undoLast.
A rejected operation prints its code and message and exits with 1.

Example:
  syncboard op ROOM transfer --args '{"from":"alice","to":"__pot__","lines":[{"variable":"points","amount":1000}]}'
  syncboard op ROOM forceEdit --args '{"participantId":"bob","values":{"points":30000}}'
  syncboard op ROOM undoLast`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeOperation(opts, args[0], ledger.Operation(args[1]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "", "operation arguments as JSON")

	return cmd
}

func invokeOperation(opts *OpOptions, roomID string, op ledger.Operation, cmd *cobra.Command) error {
	var args any
	if opts.Args != "" {
		if !json.Valid([]byte(opts.Args)) {
			return NewExitError(ExitCommandError, "invalid --args JSON")
		}
		args = json.RawMessage(opts.Args)
	}

	return withClient(opts.RootOptions, cmd, fmt.Sprintf("%s rejected", op), func(ctx context.Context, c *httpapi.Client) (any, func(io.Writer) error, error) {
		resp, err := c.Execute(ctx, roomID, op, args)
		if err != nil {
			return nil, nil, err
		}
		if err := resp.Err(); err != nil {
			return nil, nil, err
		}
		return resp, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "OK %s\n", op)
			return err
		}, nil
	})
}
