// Package cli implements the aide command line.
package cli

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lazypower/aide/internal/client"
	"github.com/lazypower/aide/internal/config"
)

// app carries flag state shared by every command.
type app struct {
	v *viper.Viper
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.v.GetString("config"))
}

func (a *app) client() *client.Client {
	return client.New(a.v.GetString("url"))
}

func (a *app) user() string { return a.v.GetString("user") }

func (a *app) jsonOutput() bool { return a.v.GetBool("json") }

// NewRootCmd builds the aide command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "aide",
		Short:         "Governed actions for a personal assistant",
		Long:          "aide decides how much autonomy each proposed action gets, runs it, and keeps a reversible record of what changed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (default ~/.aide/config.yaml)")
	root.PersistentFlags().String("url", client.DefaultURL, "aide server URL")
	root.PersistentFlags().String("user", "", "user id (default: the server's user)")
	root.PersistentFlags().Bool("json", false, "output JSON")
	for _, name := range []string{"config", "url", "user", "json"} {
		_ = a.v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newVersionCmd(),
		newServeCmd(a),
		newConfigCmd(a),
		newStatusCmd(a),
		newControlCmd(a, "start", "Start the orchestrator loops"),
		newControlCmd(a, "stop", "Stop the orchestrator loops"),
		newControlCmd(a, "pause", "Pause cognition and action"),
		newControlCmd(a, "resume", "Resume a paused orchestrator"),
		newSubmitCmd(a),
		newConfirmCmd(a),
		newRejectCmd(a),
		newPendingCmd(a),
		newPlanCmd(a),
		newGoalCmd(a),
		newRememberCmd(a),
		newRecallCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
	)
	return root
}

// Execute runs the aide CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

