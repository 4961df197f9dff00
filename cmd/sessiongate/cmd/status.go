package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/medcontrol/sessiongate/internal/domain/credential"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state and token expiries",
	Long: `Status reports whether a session is stored, when each token expires,
and when the session was last active.

Tokens are identified by fingerprint only; the raw token values are never
printed.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}

// tokenStatus describes a stored token without exposing its value.
type tokenStatus struct {
	Present     bool   `yaml:"present"`
	Fingerprint string `yaml:"fingerprint,omitempty"`
	ExpiresAt   string `yaml:"expires_at,omitempty"`
	Expired     bool   `yaml:"expired"`
}

// sessionStatus is the full status report.
type sessionStatus struct {
	LoggedIn     bool        `yaml:"logged_in"`
	Backend      string      `yaml:"backend"`
	Access       tokenStatus `yaml:"access_token"`
	Refresh      tokenStatus `yaml:"refresh_token"`
	LastActivity string      `yaml:"last_activity,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusOutput != "text" && statusOutput != "yaml" {
		return fmt.Errorf("unknown output format: %s", statusOutput)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	st := sessionStatus{
		LoggedIn: a.session.IsLoggedIn(),
		Backend:  a.cfg.Store.Backend,
		Access:   tokenStatusFor(ctx, a.store, credential.KindAccess),
		Refresh:  tokenStatusFor(ctx, a.store, credential.KindRefresh),
	}
	if last, err := a.session.LastActivity(ctx); err == nil {
		st.LastActivity = last.Format(time.RFC3339)
	}

	if statusOutput == "yaml" {
		out, err := yaml.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode status: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Logged in:     %v\n", st.LoggedIn)
	fmt.Fprintf(w, "Store backend: %s\n", st.Backend)
	printTokenStatus(w, "Access token", st.Access)
	printTokenStatus(w, "Refresh token", st.Refresh)
	if st.LastActivity != "" {
		fmt.Fprintf(w, "Last activity: %s\n", st.LastActivity)
	}
	return nil
}

// tokenStatusFor inspects one stored token. A malformed token reports as
// expired, matching how the gateway treats it.
func tokenStatusFor(ctx context.Context, store credential.Store, kind credential.Kind) tokenStatus {
	token, err := store.Get(ctx, kind)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			return tokenStatus{Expired: true}
		}
		return tokenStatus{}
	}

	st := tokenStatus{
		Present:     true,
		Fingerprint: credential.Fingerprint(token),
		Expired:     true,
	}
	if exp, err := credential.ExpiryOf(token); err == nil {
		st.ExpiresAt = exp.Format(time.RFC3339)
		st.Expired = !exp.After(time.Now())
	}
	return st
}

func printTokenStatus(w io.Writer, label string, st tokenStatus) {
	if !st.Present {
		fmt.Fprintf(w, "%s: absent\n", label)
		return
	}
	state := "valid"
	if st.Expired {
		state = "expired"
	}
	if st.ExpiresAt != "" {
		fmt.Fprintf(w, "%s: %s (fingerprint %s, expires %s)\n", label, state, st.Fingerprint, st.ExpiresAt)
		return
	}
	fmt.Fprintf(w, "%s: %s (fingerprint %s)\n", label, state, st.Fingerprint)
}
