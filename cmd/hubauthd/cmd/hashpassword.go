package cmd

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hearthhome/hubauth/internal/password"
)

var hashCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Hash a password for a local provider user list",
	Long: `Hashes a password with bcrypt so it can be pasted into the
password_hash field of a local auth provider entry. With no argument the
password is read from the terminal without echo.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var plain string
		if len(args) == 1 {
			plain = args[0]
		} else {
			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			plain = string(raw)
		}
		if plain == "" {
			return errors.New("password must not be empty")
		}

		hashed, err := password.NewBcryptHasher(hashCost).Hash(plain)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hashed)
		return nil
	},
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashCost, "cost", 0,
		"bcrypt cost (default is the bcrypt default)")
	rootCmd.AddCommand(hashPasswordCmd)
}
