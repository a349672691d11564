package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/cellguard/internal/controlplane"
)

// errGateLocked makes `cellguard gate` exit non-zero so CI pipelines can block
// a release on it.
var errGateLocked = errors.New("release gate locked")

func runEvaluate(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	window, _ := cmd.Flags().GetInt("window")
	if all && len(args) > 0 {
		return errors.New("pass a service or --all, not both")
	}

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	names := args
	if all {
		services, err := s.cp.Services(ctx)
		if err != nil {
			return err
		}
		names = nil
		for _, svc := range services {
			names = append(names, svc.Name)
		}
	}
	if len(names) == 0 {
		names = []string{controlplane.DefaultService}
	}

	results := make([]*controlplane.EvaluationResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			res, err := s.cp.Evaluate(gctx, name, window)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), results)
}

func runGate(cmd *cobra.Command, args []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := s.cp.CheckGate(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if status.Allowed {
		fmt.Fprintf(out, "✓ %s: release allowed (budget remaining %.1f%%, burn rate %.2f)\n",
			status.Service, status.BudgetRemaining*100, status.BurnRate)
		return nil
	}
	fmt.Fprintf(out, "✗ %s: release blocked: %s\n", status.Service, status.Reason)
	return errGateLocked
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
