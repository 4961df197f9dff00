package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and clear stored credentials",
	Long: `Logout asks the server to revoke the refresh token, then removes the
credential pair from the local store.

Revocation is best effort: the local store is cleared even when the server
cannot be reached, so the credentials never outlive the command.`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	if !a.session.HasSession(ctx) {
		fmt.Fprintln(cmd.OutOrStdout(), "No active session")
		return nil
	}

	if err := a.session.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}
