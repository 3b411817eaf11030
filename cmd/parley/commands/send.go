package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send <peer> <message>: encrypt and send a message to a peer device.
func sendCmd() *cobra.Command {
	var device uint32
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := appCtx.Messages.SendMessage(commandContext(cmd), sessionKey(args[0], device), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&device, "device", 1, "peer device id")
	return cmd
}
