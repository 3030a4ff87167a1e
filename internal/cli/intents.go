package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lazypower/aide/internal/client"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/planner"
	"github.com/lazypower/aide/internal/value"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator state and loop health",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "state:    %s (user %s, up %s)\n", st.State, st.UserID, st.Uptime.Round(time.Second))
			fmt.Fprintf(out, "queue:    %d queued, %d awaiting confirmation\n", st.QueueLength, st.PendingConfirmations)
			fmt.Fprintf(out, "user:     %s, %d interruptions this hour\n", st.UserState, st.Interruptions.RecentCount)
			fmt.Fprintf(out, "history:  %d snapshots, %d changes, %d learned patterns\n", st.Snapshots, st.Changes, st.LearnedPatterns)

			names := make([]string, 0, len(st.Loops))
			for name := range st.Loops {
				names = append(names, name)
			}
			sort.Strings(names)
			tw := newTable(out, table.Row{"Loop", "Running", "Interval", "Ticks", "Errors", "Last error"})
			for _, name := range names {
				l := st.Loops[name]
				tw.AppendRow(table.Row{name, l.Running, l.Interval, l.TickCount, l.ErrorCount, truncate(l.LastError, 40)})
			}
			tw.Render()
			return nil
		},
	}
}

func newControlCmd(a *app, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.client().Control(cmd.Context(), action)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrator %s\n", state)
			return nil
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		paramsJSON string
		in         client.SubmitInput
		confidence float64
		expires    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <tool> [key=value...]",
		Short: "Propose an action",
		Long: `Propose an action for the orchestrator to govern. Parameters come from
--params (a JSON object) and key=value arguments; values that parse as JSON
keep their type, anything else is a string.`,
		Example: `  aide submit setBrightness room=kitchen level=60
  aide submit turnOnLights --params '{"room":"office"}' --now`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(paramsJSON, args[1:])
			if err != nil {
				return err
			}
			in.ToolName = args[0]
			in.Params = params
			in.UserID = a.user()
			if cmd.Flags().Changed("confidence") {
				in.Confidence = &confidence
			}
			if expires > 0 {
				in.ExpiresInSeconds = int(expires / time.Second)
			}
			out, err := a.client().Submit(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printOutcome(cmd, a, out)
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", "parameters as a JSON object")
	cmd.Flags().IntVar(&in.Priority, "priority", 0, "queue priority (higher runs first)")
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "proposer confidence in [0, 1]")
	cmd.Flags().BoolVar(&in.Immediate, "now", false, "run through the pipeline now instead of queueing")
	cmd.Flags().StringVar(&in.GoalID, "goal", "", "goal this action advances")
	cmd.Flags().DurationVar(&expires, "expires", 0, "drop the intent if not run within this long")
	return cmd
}

// parseParams merges a JSON object with key=value arguments.
func parseParams(raw string, pairs []string) (value.Object, error) {
	params := value.Object{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, fmt.Errorf("--params: %w", err)
		}
	}
	for _, p := range pairs {
		key, text, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q: want key=value", p)
		}
		var v value.Value
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			v = value.String(text)
		}
		params[key] = v
	}
	return params, nil
}

func printOutcome(cmd *cobra.Command, a *app, out *orchestrator.Outcome) error {
	w := cmd.OutOrStdout()
	if a.jsonOutput() {
		return printJSON(w, out)
	}
	fmt.Fprintf(w, "%s  %s  %s", out.IntentID, out.ToolName, out.Status)
	if out.Decision.Level != "" {
		fmt.Fprintf(w, "  [%s: %s]", out.Decision.Level, out.Decision.Reason)
	}
	fmt.Fprintln(w)
	if out.Decision.DisplayMessage != "" {
		fmt.Fprintf(w, "  %s\n", out.Decision.DisplayMessage)
	}
	if out.Status == orchestrator.StatusAwaiting {
		fmt.Fprintf(w, "  confirm with: aide confirm %s\n", out.IntentID)
	}
	if out.Result != nil && out.Result.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", out.Result.Error)
	}
	if out.Message != "" {
		fmt.Fprintf(w, "  %s\n", out.Message)
	}
	return nil
}

func newConfirmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <intent-id>",
		Short: "Approve an action awaiting confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.client().Confirm(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(cmd, a, out)
		},
	}
}

func newRejectCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <intent-id>",
		Short: "Decline an action awaiting confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.client().Reject(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printOutcome(cmd, a, out)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the action was declined")
	return cmd
}

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List actions awaiting confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client().Pending(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "Nothing awaiting confirmation.")
				return nil
			}
			tw := newTable(out, table.Row{"Intent", "Tool", "Level", "Message", "Expires"})
			for _, p := range list {
				msg := p.Decision.DisplayMessage
				if msg == "" {
					msg = p.Decision.Reason
				}
				expires := p.ExpiresAt.Local().Format(time.Kitchen)
				if p.Expired {
					expires = "expired"
				}
				tw.AppendRow(table.Row{p.Intent.ID, p.Intent.ToolName, p.Decision.Level, truncate(msg, 50), expires})
			}
			tw.Render()
			return nil
		},
	}
}

func newPlanCmd(a *app) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "plan <request...>",
		Short: "Ask the planner to turn a request into actions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.client().Plan(cmd.Context(), planner.Input{
				UserID:    a.user(),
				Text:      strings.Join(args, " "),
				Immediate: now,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(out, plan)
			}
			if plan.Reply != "" {
				fmt.Fprintln(out, plan.Reply)
			}
			for i := range plan.Outcomes {
				if err := printOutcome(cmd, a, &plan.Outcomes[i]); err != nil {
					return err
				}
			}
			for _, r := range plan.Rejected {
				fmt.Fprintf(out, "refused %s: %s\n", r.Proposal.Tool, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "run proposed actions immediately")
	return cmd
}
