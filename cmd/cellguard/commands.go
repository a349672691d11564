package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "cellguard",
		Short: "Operate the CellGuard SRE control plane from the command line",
		Long: `cellguard validates service definitions and runs budget evaluations,
release gate checks and agents directly against the control plane store.`,
		SilenceUsage: true,
	}

	// --- Catalog ---
	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate service definition YAML files in a directory",
		RunE:  runValidate, // Defined in cmd_catalog.go
	}
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Apply the service catalog to the store",
		RunE:  runSync, // Defined in cmd_catalog.go
	}

	// --- Budgets ---
	evaluateCmd = &cobra.Command{
		Use:   "evaluate [service]",
		Short: "Recompute error budgets and classify the recent window",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEvaluate, // Defined in cmd_budget.go
	}
	gateCmd = &cobra.Command{
		Use:   "gate <service>",
		Short: "Check whether releases may ship for a service",
		Args:  cobra.ExactArgs(1),
		RunE:  runGate, // Defined in cmd_budget.go
	}

	// --- Agents ---
	agentsCmd = &cobra.Command{
		Use:   "agents",
		Short: "Inspect and run autonomous agents",
	}
	agentsStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show agent status and recent activity",
		RunE:  runAgentsStatus, // Defined in cmd_agents.go
	}
	agentsRunCmd = &cobra.Command{
		Use:   "run <agent>",
		Short: "Run one agent on a service, or on every service",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentsRun, // Defined in cmd_agents.go
	}
	agentsToggleCmd = &cobra.Command{
		Use:   "toggle <agent>",
		Short: "Enable or disable an agent",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentsToggle, // Defined in cmd_agents.go
	}
	reapCmd = &cobra.Command{
		Use:   "reap",
		Short: "Fail agent executions stuck in running",
		RunE:  runReap, // Defined in cmd_agents.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults to $CELLGUARD_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	validateCmd.Flags().String("dir", "", "Directory containing service definition YAML files")
	_ = validateCmd.MarkFlagRequired("dir")
	syncCmd.Flags().String("dir", "", "Catalog directory (defaults to the configured one)")

	evaluateCmd.Flags().Bool("all", false, "Evaluate every known service")
	evaluateCmd.Flags().Int("window", 60, "Classification window in minutes")

	agentsRunCmd.Flags().String("service", "", "Service to run on (defaults to every service)")
	agentsToggleCmd.Flags().Bool("enabled", true, "Whether the agent is enabled")
	agentsStatusCmd.Flags().Int("limit", 10, "Recent activity entries to show")
	reapCmd.Flags().Duration("stale-after", 0, "Age after which a running execution is failed (defaults to the configured one)")

	agentsCmd.AddCommand(agentsStatusCmd, agentsRunCmd, agentsToggleCmd)
	rootCmd.AddCommand(validateCmd, syncCmd, evaluateCmd, gateCmd, agentsCmd, reapCmd)
}
