package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/domain"
)

// recv: fetch and decrypt queued messages.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := appCtx.Messages.ReceiveMessages(commandContext(cmd), limit)
			printMessages(msgs)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages to fetch (0 for all)")
	return cmd
}

func printMessages(msgs []domain.DecryptedMessage) {
	for _, m := range msgs {
		fmt.Printf("[%s %s/%d] %s\n",
			time.Unix(m.Timestamp, 0).Format(time.RFC3339), m.SenderID, m.SenderDevice, string(m.Plaintext))
	}
}
