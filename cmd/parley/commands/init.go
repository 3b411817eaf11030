package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"parley/internal/domain"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and pre-keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := appCtx.Profile
			if p.Username == "" {
				return errors.New("--username required")
			}
			if _, err := appCtx.Identity.LoadIdentity(); err == nil {
				return errors.Errorf("identity already exists in %s", home)
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if err := settings.Save(configPath); err != nil {
				return err
			}

			_, fp, err := appCtx.Identity.GenerateIdentity()
			if err != nil {
				return err
			}
			if _, _, err := appCtx.PreKeys.GenerateAndStorePreKeys(settings.Storage.OneTimePreKeys); err != nil {
				return err
			}
			if err := appCtx.Profiles.SaveProfile(p); err != nil {
				return err
			}
			fmt.Printf("Identity created for %s (device %d).\nFingerprint: %s\n",
				p.Username, p.DeviceID, fp)
			return nil
		},
	}
	return cmd
}

// sessionKey builds the address of a peer device.
func sessionKey(peer string, device uint32) domain.SessionKey {
	return domain.SessionKey{Peer: domain.Username(peer), Device: domain.DeviceID(device)}
}
