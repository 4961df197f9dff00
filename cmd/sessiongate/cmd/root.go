// Package cmd provides the CLI commands for sessiongate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medcontrol/sessiongate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sessiongate",
	Short: "sessiongate - session and request gateway for the medication stock API",
	Long: `sessiongate manages an authenticated session against the medication
stock-control API and dispatches requests through a credential-aware gateway.

It keeps an access/refresh token pair in a local credential store, attaches
the access token to outgoing requests, renews it transparently when it
expires, and ends the session when renewal is no longer possible or the
session has been idle too long.

Quick start:
  1. sessiongate login -u <username>
  2. sessiongate call GET /api/products/

Configuration:
  Config is loaded from sessiongate.yaml in the current directory,
  $HOME/.sessiongate/, or /etc/sessiongate/.

  Environment variables can override config values with the SESSIONGATE_ prefix.
  Example: SESSIONGATE_API_BASE_URL=https://stock.example.gob.gt

Commands:
  login       Sign in and store the credential pair
  logout      Revoke the session and clear stored credentials
  status      Show session state and token expiries
  call        Send a request through the authorizing gateway
  run         Keep the session alive and watch for idle timeout
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sessiongate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
