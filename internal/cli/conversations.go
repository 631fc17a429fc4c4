package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/agentflow/internal/config"
	"github.com/harun/agentflow/pkg/conversation"
	"github.com/harun/agentflow/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Inspect stored conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conversations",
	Args:  cobra.NoArgs,
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsDelete,
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd, conversationsShowCmd, conversationsDeleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}

// openStore opens the configured conversation store without building the engine.
func openStore(cmd *cobra.Command) (session.Store, error) {
	cfg, _, err := loadConfig(cmd, "warn")
	if err != nil {
		return nil, err
	}
	return storeFor(cfg)
}

func storeFor(cfg *config.Config) (session.Store, error) {
	return session.Open(cfg.Storage.Driver, cfg.Storage.Path, zerolog.Nop())
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No conversations stored.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tTURNS\tUPDATED\tPREVIEW")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.ID, orDash(s.AgentName), s.TurnCount, s.UpdatedAt.Local().Format(time.DateTime), s.Preview)
	}
	return w.Flush()
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	conv, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printConversation(cmd.OutOrStdout(), conv)
	return nil
}

func printConversation(out io.Writer, conv *session.Conversation) {
	meta := conv.Metadata
	fmt.Fprintf(out, "Conversation %s\n", conv.ID)
	fmt.Fprintf(out, "Agent: %s (%s/%s)\n", orDash(meta.AgentName), orDash(meta.ModelType), orDash(meta.ModelName))
	fmt.Fprintf(out, "Updated: %s\n\n", meta.UpdatedAt.Local().Format(time.DateTime))

	for _, t := range conv.Turns {
		switch t.Role {
		case conversation.RoleTool:
			fmt.Fprintf(out, "[tool %s %s] %s\n", t.ToolName, t.ToolCallID, t.Content)
		case conversation.RoleAssistant:
			if t.Content != "" {
				fmt.Fprintf(out, "assistant: %s\n", t.Content)
			}
			for _, call := range t.ToolCalls {
				fmt.Fprintf(out, "assistant -> %s(%s) [%s]\n", call.Name, formatArgs(call.Args), call.ID)
			}
		default:
			fmt.Fprintf(out, "%s: %s\n", t.Role, t.Content)
		}
	}
}

func formatArgs(args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

func runConversationsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
	return nil
}
