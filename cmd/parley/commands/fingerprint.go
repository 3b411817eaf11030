package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"parley/internal/crypto"
	"parley/internal/domain"
)

// fingerprint [peer]: print our fingerprint, or the one pinned in the session
// with a peer device so both sides can compare them out of band.
func fingerprintCmd() *cobra.Command {
	var device uint32
	cmd := &cobra.Command{
		Use:   "fingerprint [peer]",
		Short: "Print the identity fingerprint of this device or of a session peer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fp, err := appCtx.Identity.FingerprintIdentity()
				if err != nil {
					return err
				}
				fmt.Printf("%s (device %d): %s\n", appCtx.Profile.Username, appCtx.Profile.DeviceID, fp)
				return nil
			}

			key := sessionKey(args[0], device)
			sess, ok, err := appCtx.Sessions.GetSession(commandContext(cmd), key)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Wrapf(domain.ErrSessionNotFound, "%s", key)
			}
			fmt.Printf("%s: %s\n", key, crypto.Fingerprint(sess.PeerIdentityKey.Slice()))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&device, "device", 1, "peer device id")
	return cmd
}
