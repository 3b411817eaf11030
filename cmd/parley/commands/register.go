package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish your prekey bundle to the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appCtx.Profile.Username == "" {
				return errors.New("no username configured; run init first")
			}

			// Rotate the signed-prekey and top up one-time prekeys.
			if _, _, err := appCtx.PreKeys.GenerateAndStorePreKeys(count); err != nil {
				return err
			}

			// Assemble the public bundle and publish it.
			bundle, err := appCtx.PreKeys.PublishPreKeyBundle(commandContext(cmd), appCtx.Profile)
			if err != nil {
				return err
			}

			fmt.Printf("Registered %s (device %d) with %d one-time prekeys\n",
				bundle.Username, bundle.DeviceID, len(bundle.OneTimePreKeys))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "one-time prekeys to add")
	return cmd
}
