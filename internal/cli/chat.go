package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/harun/agentflow/pkg/agent"
	"github.com/harun/agentflow/pkg/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatAgent        string
	chatMessage      string
	chatConversation string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with an agent from the terminal",
	Long: `Send a message to an agent and print its answer. With --message the
command runs once. Otherwise it reads messages interactively when stdin is a
terminal, or takes all of stdin as one message when it is piped.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatAgent, "agent", "a", "", "agent to talk to (default: first configured agent)")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "resume a stored conversation")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd, "warn")
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := chatAgentName(a)
	if err != nil {
		return err
	}
	conversationID := chatConversation
	if conversationID == "" {
		conversationID = session.NewConversationID()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	c := &chatSession{
		runner:         a.runner,
		agent:          name,
		conversationID: conversationID,
		out:            out,
		render:         newRenderer(out),
	}

	if chatMessage != "" {
		return c.send(ctx, chatMessage)
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return c.repl(ctx, in)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return fmt.Errorf("no message given")
	}
	return c.send(ctx, message)
}

func chatAgentName(a *app) (string, error) {
	if chatAgent != "" {
		name := strings.ToLower(chatAgent)
		if _, err := a.registry.Get(name); err != nil {
			return "", err
		}
		return name, nil
	}
	defs := a.registry.List()
	if len(defs) == 0 {
		return "", fmt.Errorf("no agents configured")
	}
	return defs[0].Name, nil
}

type chatSession struct {
	runner         *agent.Runner
	agent          string
	conversationID string
	out            io.Writer
	render         func(string) string
}

func (c *chatSession) send(ctx context.Context, message string) error {
	result, err := c.runner.Run(ctx, agent.RunParams{
		ConversationID: c.conversationID,
		AgentName:      c.agent,
		Message:        message,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, c.render(result.Content))
	if result.Outcome != agent.OutcomeCompleted {
		fmt.Fprintf(c.out, "[%s]\n", result.Outcome)
	}
	return nil
}

func (c *chatSession) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(c.out, "Chatting with %s (conversation %s). Type /exit to quit.\n", c.agent, c.conversationID)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		if err := c.send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// newRenderer renders markdown with glamour when w is a terminal and passes text
// through otherwise.
func newRenderer(w io.Writer) func(string) string {
	plain := func(s string) string { return s }
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return plain
	}

	width := 80
	if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 20 {
		width = cols - 4
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return plain
	}
	return func(s string) string {
		rendered, err := renderer.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(rendered, "\n")
	}
}
