package cmd

import (
	"fmt"

	"parish-system/config"

	"github.com/spf13/cobra"
)

func sweepCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire lapsed payments and free their slots once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := a.sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d payment intents\n", expired)
			return nil
		},
	}
}
