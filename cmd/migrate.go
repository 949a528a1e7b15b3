package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"parish-system/config"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func migrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			return st.Close()
		},
	}
}

// hashKeyCmd prints the OPERATOR_KEY_HASH value for a key read from stdin.
func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-operator-key",
		Short: "Read an operator key from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read key: %w", err)
			}
			key := strings.TrimSpace(line)
			if len(key) < 12 {
				return fmt.Errorf("operator key must have at least 12 characters")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}
