package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/samijaber1/cellguard/internal/catalog"
)

var errValidationFailed = errors.New("validation failed")

func runValidate(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")

	validator, err := catalog.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to initialize validator: %w", err)
	}

	defs, verrs := validator.ValidateDirectory(dir)
	out := cmd.OutOrStdout()
	if len(verrs) == 0 {
		fmt.Fprintf(out, "✓ All service definitions are valid (%d services)\n", len(defs))
		return nil
	}

	errorsByFile := make(map[string][]catalog.ValidationError)
	for _, verr := range verrs {
		errorsByFile[verr.File] = append(errorsByFile[verr.File], verr)
	}
	files := make([]string, 0, len(errorsByFile))
	for file := range errorsByFile {
		files = append(files, file)
	}
	sort.Strings(files)

	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "✗ Validation failed with %d error(s):\n\n", len(verrs))
	for _, file := range files {
		for _, verr := range errorsByFile[file] {
			if verr.Path != "" {
				fmt.Fprintf(errOut, "%s: %s: %s\n", filepath.Base(verr.File), verr.Path, verr.Message)
			} else {
				fmt.Fprintf(errOut, "%s: %s\n", filepath.Base(verr.File), verr.Message)
			}
		}
	}
	return errValidationFailed
}

func runSync(cmd *cobra.Command, _ []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = s.cfg.Catalog.Directory
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("catalog directory: %w", err)
	}

	syncer, err := catalog.NewSyncer(dir, s.store, s.budgets, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize syncer: %w", err)
	}
	res, err := syncer.Sync(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d service(s): %d created, %d updated, %d invalid file error(s)\n",
		res.Services, res.Created, res.Updated, len(res.Errors))
	return nil
}
