package cli

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/harun/agentflow/pkg/coretools"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List configured agents",
	RunE:  runAgents,
}

func init() {
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, "warn")
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	available := a.factory.Available()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROVIDER\tMODEL\tTOOLS\tREADY")
	for _, def := range a.registry.List() {
		tools := slices.Clone(def.Tools)
		for _, d := range def.Delegates {
			tools = append(tools, coretools.ProxyToolName(d))
		}
		ready := "no"
		if slices.Contains(available, def.Provider) {
			ready = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, def.Provider, def.Model, orDash(strings.Join(tools, ",")), ready)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
