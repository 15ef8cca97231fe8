// Command forgectl drives an appforge orchestrator over its HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaot623/appforge/internal/client"
	"github.com/xiaot623/appforge/internal/domain"
)

var (
	version = "dev"

	serverURL      string
	requestTimeout time.Duration
	outputJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "Control an appforge build pipeline",
	Long: `forgectl starts, approves, steers and watches build-pipeline runs on an
appforge orchestrator.

The orchestrator runs one pipeline at a time. A run is started with a user
request, pauses for plan approval, then hands off between agents until the
last stage completes it or an error stops it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("APPFORGE_SERVER", "http://localhost:8080"), "orchestrator base URL")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print the raw state as JSON")

	approveCmd.Flags().String("plan-file", "", "JSON file with a replacement plan ({\"summary\":...,\"steps\":[...]})")
	watchCmd.Flags().Duration("interval", 0, "poll interval (defaults to the server's advertised interval)")

	rootCmd.AddCommand(startCmd, approveCmd, toolCmd, stateCmd, resetCmd, watchCmd, agentsCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var startCmd = &cobra.Command{
	Use:   "start <request>",
	Short: "Start a new pipeline run",
	Long: `Start a new pipeline run for a natural-language request.

Examples:
  forgectl start "a todo app with a REST API"
  forgectl start build me a blog`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	st, err := newClient().Start(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), st)
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the proposed plan",
	Long: `Approve the plan the architect proposed and begin execution.

With --plan-file the given plan replaces the proposal.

Examples:
  forgectl approve
  forgectl approve --plan-file plan.json`,
	Args: cobra.NoArgs,
	RunE: runApprove,
}

func runApprove(cmd *cobra.Command, _ []string) error {
	planFile, _ := cmd.Flags().GetString("plan-file")
	plan, err := readPlan(planFile)
	if err != nil {
		return err
	}
	st, err := newClient().ApprovePlan(cmd.Context(), plan)
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), st)
}

var toolCmd = &cobra.Command{
	Use:   "tool <name> [key=value...]",
	Short: "Issue a tool call against the active run",
	Long: `Issue a tool call as the current agent.

Values that parse as JSON (numbers, booleans, arrays, objects) are sent as
JSON; everything else is sent as a string.

Examples:
  forgectl tool handoff_to_frontend summary="API ready"
  forgectl tool handoff to=qa 'skip=["integrator"]'
  forgectl tool report_blocker reason="no database" fatal=true`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTool,
}

func runTool(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args[1:])
	if err != nil {
		return err
	}
	st, err := newClient().ToolCall(cmd.Context(), args[0], params)
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), st)
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the current pipeline state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, _, err := newClient().State(cmd.Context())
		if err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), st)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the active run and return to idle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := newClient().Reset(cmd.Context())
		if err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), st)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the pipeline state until the run settles",
	Long: `Poll the pipeline state and print every new version until the run is
idle, complete, failed or waiting for plan approval.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watch(ctx, newClient(), cmd.OutOrStdout(), interval)
}

func watch(ctx context.Context, c *client.Client, w io.Writer, interval time.Duration) error {
	var lastVersion uint64
	first := true
	for {
		st, advertised, err := c.State(ctx)
		if err != nil {
			return err
		}
		if first || st.Version != lastVersion {
			if err := printState(w, st); err != nil {
				return err
			}
			first = false
			lastVersion = st.Version
		}
		if settled(st.Phase) {
			return nil
		}

		wait := interval
		if wait <= 0 {
			wait = advertised
		}
		if wait <= 0 {
			wait = 2 * time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// settled reports whether the run needs no more polling.
func settled(p domain.Phase) bool {
	return p == domain.PhaseIdle || p == domain.PhaseAwaitingApproval || p.IsTerminal()
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the pipeline's agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		agents, err := newClient().Agents(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, a := range agents {
			fmt.Fprintf(w, "%-10s %-20s %s\n", a.ID, a.DisplayName, a.Role)
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		runs, err := newClient().Runs(cmd.Context(), 20)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range runs {
			fmt.Fprintf(w, "%s  %-18s %-5d %s\n", r.RunID, r.Phase, r.Steps, r.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func newClient() *client.Client {
	return client.New(serverURL, requestTimeout)
}

// parseParams turns key=value arguments into tool call parameters.
func parseParams(args []string) (map[string]interface{}, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", arg)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func readPlan(path string) (*domain.Plan, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	return &plan, nil
}

func printState(w io.Writer, st *domain.State) error {
	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintf(w, "[v%d] phase=%s", st.Version, st.Phase)
	if st.CurrentAgent != "" {
		fmt.Fprintf(w, " agent=%s", st.CurrentAgent)
	}
	if st.RunID != "" {
		fmt.Fprintf(w, " run=%s steps=%d", st.RunID, st.Steps)
	}
	fmt.Fprintln(w)

	if st.Plan != nil && st.Phase == domain.PhaseAwaitingApproval {
		fmt.Fprintf(w, "  plan: %s\n", st.Plan.Summary)
		for i, step := range st.Plan.Steps {
			fmt.Fprintf(w, "    %d. %s\n", i+1, step)
		}
	}
	if st.PendingError != nil {
		fmt.Fprintf(w, "  error: %s\n", st.PendingError.Error())
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
