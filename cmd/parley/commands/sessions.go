package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List established sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			keys, err := appCtx.Sessions.ListSessions(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PEER\tDEVICE\tMODE\tROLE\tPENDING\tLAST USED")
			for _, k := range keys {
				s, ok, err := appCtx.Sessions.GetSession(ctx, k)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				role := "responder"
				if s.Initiator {
					role = "initiator"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%t\t%s\n",
					k.Peer, k.Device, s.Mode, role, s.PendingPreKey != nil, s.LastUsed.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func teardownCmd() *cobra.Command {
	var device uint32
	cmd := &cobra.Command{
		Use:   "teardown <peer>",
		Short: "Delete the session with a peer device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := sessionKey(args[0], device)
			if err := appCtx.Sessions.TeardownSession(commandContext(cmd), key); err != nil {
				return err
			}
			fmt.Printf("Session with %s removed\n", key)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&device, "device", 1, "peer device id")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired pre-keys and other expired records",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := appCtx.Sweep(time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired records\n", n)
			return nil
		},
	}
}
