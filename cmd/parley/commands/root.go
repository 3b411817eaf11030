package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"parley/internal/app"
	"parley/internal/config"
	"parley/internal/services/identity"
)

// skipWire marks commands that run without unlocking the storage.
const skipWire = "skip-wire"

var (
	home       string
	configPath string
	profile    string
	passphrase string
	relayURL   string
	username   string
	deviceID   uint32

	settings *config.Config
	appCtx   *app.Wire
)

// Execute runs the parley CLI.
func Execute() error {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "End-to-end encrypted messaging CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".parley")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if configPath == "" {
				configPath = filepath.Join(home, config.FileName)
			}

			var err error
			if settings, err = config.LoadFile(configPath); err != nil {
				return err
			}
			if profile != "" {
				if err := settings.ApplyProfile(profile); err != nil {
					return err
				}
			}
			if relayURL != "" {
				settings.Relay.URL = relayURL
			}
			if username != "" {
				settings.Device.Username = username
			}
			if cmd.Flags().Changed("device-id") {
				settings.Device.DeviceID = deviceID
			}
			if err := settings.Validate(); err != nil {
				return err
			}
			if cmd.Annotations[skipWire] != "" {
				return nil
			}

			secret, err := readPassphrase()
			if err != nil {
				return err
			}
			// Only a new store gets the strength check; existing stores are
			// checked against their verifier instead.
			if cmd.Name() == "init" {
				if err := identity.CheckPassphrase(string(secret)); err != nil {
					return err
				}
			}
			appCtx, err = app.NewWire(app.Config{Home: home, Settings: settings, Secret: secret})
			return err
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.parley)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/parley.toml)")
	root.PersistentFlags().StringVar(&profile, "profile", "", "named protocol profile, overrides the config file")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the key store (prompted when empty)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&username, "username", "", "local username, overrides the config file")
	root.PersistentFlags().Uint32Var(&deviceID, "device-id", 1, "local device id, overrides the config file")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		registerCmd(),
		startSessionCmd(),
		sendCmd(),
		recvCmd(),
		watchCmd(),
		sessionsCmd(),
		teardownCmd(),
		sweepCmd(),
		configCmd(),
	)
	err := root.Execute()
	if appCtx != nil {
		if cerr := appCtx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func readPassphrase() ([]byte, error) {
	if passphrase != "" {
		return []byte(passphrase), nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("passphrase required (-p)")
	}
	defer func() { _, _ = fmt.Fprintln(os.Stderr) }()
	_, _ = fmt.Fprint(os.Stderr, "Enter passphrase: ")
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
