// Command import_books loads a JSON catalog file into the configured store.
//
// The file is an array of {"title", "author", "category", "year", "isbn"}
// objects.
package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"bookflow/internal/config"
	"bookflow/library"
)

func main() {
	var (
		configPath string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:          "import_books <catalog.json>",
		Short:        "Import books from a JSON catalog",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			books, err := readCatalog(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Read %d books from %s\n", len(books), args[0])
			if dryRun {
				return nil
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := library.OpenStore(cmd.Context(), cfg.StoreOptions())
			if err != nil {
				return err
			}
			mgr := library.NewLibraryManager(store)
			defer mgr.Close()

			successCount, errorCount := 0, 0
			for _, in := range books {
				fmt.Printf("Importing: %s by %s... ", in.Title, in.Author)
				b, err := mgr.AddBook(cmd.Context(), library.SystemPrincipal, in)
				if err != nil {
					fmt.Printf("ERROR - %v\n", describe(err))
					errorCount++
					continue
				}
				fmt.Printf("SUCCESS (ID: %s)\n", b.ID)
				successCount++
			}

			fmt.Printf("\nImport complete!\n")
			fmt.Printf("Successfully imported: %d books\n", successCount)
			fmt.Printf("Errors: %d\n", errorCount)
			if errorCount > 0 {
				return fmt.Errorf("%d of %d books failed", errorCount, len(books))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse the catalog without importing")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func readCatalog(path string) ([]library.BookInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var books []library.BookInput
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return books, nil
}

// describe flattens validation details for console output.
func describe(err error) string {
	var verr *library.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	parts := make([]string, 0, len(verr.Fields))
	for field, msg := range verr.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
