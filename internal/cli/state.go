package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lazypower/aide/internal/config"
	"github.com/lazypower/aide/internal/goals"
	"github.com/lazypower/aide/internal/memory"
	"github.com/lazypower/aide/internal/orchestrator"
	"github.com/lazypower/aide/internal/store"
)

func newGoalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}

	var create goals.CreateInput
	createCmd := &cobra.Command{
		Use:   "create <description...>",
		Short: "Create a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			create.Description = strings.Join(args, " ")
			create.UserID = a.user()
			g, err := a.client().CreateGoal(cmd.Context(), create)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), g)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created goal %s (priority %d)\n", g.ID, g.Priority)
			return nil
		},
	}
	createCmd.Flags().IntVar(&create.Priority, "priority", 5, "priority 1-10")
	createCmd.Flags().StringVar(&create.ParentID, "parent", "", "parent goal id")
	createCmd.Flags().StringSliceVar(&create.Steps, "step", nil, "next action (repeatable)")
	createCmd.Flags().Float64Var(&create.TTLHours, "ttl-hours", 0, "hours without interaction before the goal goes stale")

	var statuses []string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]store.GoalStatus, len(statuses))
			for i, s := range statuses {
				filter[i] = store.GoalStatus(s)
			}
			list, err := a.client().Goals(cmd.Context(), filter...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(out, list)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No goals.")
				return nil
			}
			tw := newTable(out, table.Row{"ID", "Description", "Status", "Priority", "Progress", "Attention"})
			for _, g := range list {
				tw.AppendRow(table.Row{g.ID, truncate(g.Description, 50), g.Status, g.Priority, fmt.Sprintf("%d%%", g.Progress), fmt.Sprintf("%.2f", g.AttentionScore)})
			}
			tw.Render()
			return nil
		},
	}
	listCmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")

	cmd.AddCommand(createCmd, listCmd)
	for _, action := range []string{"complete", "pause", "resume", "abandon", "touch"} {
		cmd.AddCommand(newGoalActionCmd(a, action))
	}
	return cmd
}

func newGoalActionCmd(a *app, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <goal-id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.client().GoalAction(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), g)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "goal %s is %s\n", g.ID, g.Status)
			return nil
		},
	}
}

func newRememberCmd(a *app) *cobra.Command {
	var (
		in      memory.RememberInput
		memType string
	)
	cmd := &cobra.Command{
		Use:   "remember <content...>",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Content = strings.Join(args, " ")
			in.UserID = a.user()
			in.Type = memory.Type(memType)
			m, dup, err := a.client().Remember(cmd.Context(), in)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), m)
			}
			if dup {
				fmt.Fprintf(cmd.OutOrStdout(), "reinforced %s (strength %.2f)\n", m.ID, m.Strength)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "remembered %s\n", m.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&memType, "type", "", "memory type (ephemeral, working, long_term, permanent)")
	cmd.Flags().StringVar(&in.Category, "category", "", "category")
	cmd.Flags().IntVar(&in.Importance, "importance", 0, "importance 1-10")
	return cmd
}

func newRecallCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recall <query...>",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := a.client().Recall(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. [%.3f] %s\n", i+1, r.Score, r.Memory.Content)
				fmt.Fprintf(out, "   %s, strength %.2f\n", r.Memory.Type, r.Memory.Strength)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of results")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent governed actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return printJSON(out, list)
			}
			tw := newTable(out, table.Row{"When", "Tool", "Decision", "Status", "Detail"})
			for _, h := range list {
				detail := h.Outcome
				if h.Error != "" {
					detail = h.Error
				}
				tw.AppendRow(table.Row{h.CreatedAt.Local().Format(time.DateTime), h.ToolName, h.DecisionLevel, h.Status, truncate(detail, 50)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream orchestrator events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			return a.client().Watch(ctx, types, func(ev orchestrator.Event) {
				if a.jsonOutput() {
					_ = printJSON(out, ev)
					return
				}
				fmt.Fprintf(out, "%s  %-22s %v\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, ev.Data)
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these event types (repeatable)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.v.GetString("config")
			if path == "" {
				path = config.DefaultPath()
			}
			if path == "" {
				return fmt.Errorf("no home directory; pass --config")
			}
			cfg := config.Default()
			if err := cfg.WriteFile(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
