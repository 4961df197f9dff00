package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/medcontrol/sessiongate/internal/domain/session"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the credential pair",
	Long: `Login exchanges a username and password for an access/refresh token
pair and stores it in the configured credential store.

The password is read from the terminal when not passed via --password.
Passing --password on the command line leaves it in shell history; prefer
the interactive prompt.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "account username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password (prompted when omitted)")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	username := loginUsername
	if username == "" {
		username, err = promptLine("Username: ")
		if err != nil {
			return err
		}
	}
	if username == "" {
		return errors.New("username is required")
	}

	password := loginPassword
	if password == "" {
		password, err = promptPassword("Password: ")
		if err != nil {
			return err
		}
	}
	if password == "" {
		return errors.New("password is required")
	}

	ctx := cmd.Context()

	// A fresh login replaces whatever session was stored before.
	if a.session.HasSession(ctx) {
		if err := a.session.EndSession(ctx); err != nil {
			a.logger.Warn("failed to clear previous session", "error", err)
		}
	}

	if err := a.session.Login(ctx, username, password); err != nil {
		var rejected *session.AuthRejectedError
		if errors.As(err, &rejected) {
			return fmt.Errorf("login rejected: %s", rejected.Reason)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
	return nil
}

// promptLine reads a single line from stdin.
func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echoing it to the terminal.
// Falls back to a plain line read when stdin is not a terminal (pipes, CI).
func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
