package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"parley/internal/crypto"
)

// startSessionCmd performs the X3DH handshake against a peer device's prekey
// bundle and persists a new session for future messaging.
func startSessionCmd() *cobra.Command {
	var device uint32
	cmd := &cobra.Command{
		Use:   "start-session <peer>",
		Short: "Establish a secure session with a peer device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := sessionKey(args[0], device)

			// Initiate handshake and store session state
			sess, err := appCtx.Sessions.InitiateSession(commandContext(cmd), key)
			if err != nil {
				return errors.Wrapf(err, "starting session with %s", key)
			}

			fmt.Printf("Session created with %s (%s). Peer fingerprint: %s\n",
				key, sess.Mode, crypto.Fingerprint(sess.PeerIdentityKey.Slice()))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&device, "device", 1, "peer device id")
	return cmd
}
