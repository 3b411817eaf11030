package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Print the effective configuration",
		Annotations: map[string]string{skipWire: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				if err := settings.Save(configPath); err != nil {
					return err
				}
				fmt.Printf("# written to %s\n", configPath)
			}
			fmt.Print(settings.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "save the effective configuration to the config file")
	return cmd
}
