package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bookflow/internal/config"
	"bookflow/internal/logging"
	"bookflow/library"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "bookflow",
		Short:         "BookFlow library loan tracking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default configs/{APP_ENV}.yaml)")

	root.AddCommand(newServeCmd(), newUserCmd(), newBooksCmd(), newSeedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration and builds the root logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Log
	logCfg.Component = "bookflow"
	return cfg, logging.New(logCfg), nil
}

// openManager opens the configured store and wraps it in a manager.
func openManager(ctx context.Context, cfg *config.Config) (*library.LibraryManager, error) {
	store, err := library.OpenStore(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	return library.NewLibraryManager(store), nil
}

// readPassword securely reads a password with masking. Piped input is read
// as a plain line.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if !term.IsTerminal(int(syscall.Stdin)) {
		sc := bufio.NewScanner(os.Stdin)
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("no password given")
		}
		return strings.TrimSpace(sc.Text()), nil
	}
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println() // newline after masked input
	return strings.TrimSpace(string(bytePassword)), nil
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return s[:maxLength]
	}
	return s[:maxLength-3] + "..."
}
