package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/samijaber1/cellguard/internal/agents"
)

func runAgentsStatus(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	status, err := s.scheduler.Status(ctx)
	if err != nil {
		return err
	}
	activity, err := s.scheduler.RecentActivity(ctx, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	state := "enabled"
	if !status.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(out, "Agents %s\n\n", state)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tENABLED\tRUNS TODAY\tLAST RUN")
	for _, a := range status.Agents {
		last := "never"
		if a.LastExecution != nil {
			last = a.LastExecution.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", a.Name, a.Enabled, a.ExecutionsToday, last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(activity) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nRecent activity")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSERVICE\tSTATUS\tDESCRIPTION\tDURATION")
	for _, a := range activity {
		desc := a.Description
		if a.Error != "" {
			desc += " (" + a.Error + ")"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%dms\n", a.ID, a.Agent, a.Service, a.Status, desc, a.DurationMs)
	}
	return tw.Flush()
}

func runAgentsRun(cmd *cobra.Command, args []string) error {
	service, _ := cmd.Flags().GetString("service")

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	var outcomes []agents.Outcome
	if service != "" {
		out, err := s.scheduler.RunAgentOnService(ctx, args[0], service)
		if err != nil {
			return err
		}
		if out == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s did not run: agent disabled or service not found\n", args[0])
			return nil
		}
		outcomes = append(outcomes, *out)
	} else {
		// Partial outcomes are still worth printing before the error.
		outcomes, err = s.scheduler.RunAgent(ctx, args[0])
		if perr := printJSON(cmd.OutOrStdout(), outcomes); perr != nil {
			return perr
		}
		return err
	}
	return printJSON(cmd.OutOrStdout(), outcomes)
}

func runAgentsToggle(cmd *cobra.Command, args []string) error {
	enabled, _ := cmd.Flags().GetBool("enabled")

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.scheduler.ToggleAgent(cmd.Context(), args[0], enabled); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", args[0], enabled)
	return nil
}

func runReap(cmd *cobra.Command, _ []string) error {
	staleAfter, _ := cmd.Flags().GetDuration("stale-after")

	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	if staleAfter <= 0 {
		staleAfter = s.cfg.Agents.StaleAfter
	}
	n, err := s.ledger.Reap(cmd.Context(), staleAfter)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reaped %d stale execution(s)\n", n)
	return nil
}
