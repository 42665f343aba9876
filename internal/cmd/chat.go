package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/iocontext"
	"github.com/taleforge/supportsync/internal/outfmt"
	"github.com/taleforge/supportsync/internal/syncengine"
	"github.com/taleforge/supportsync/internal/views"
)

func newChatCmd() *cobra.Command {
	var (
		subject string
		askAI   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with support as a customer",
		Long: strings.TrimSpace(`
Open the customer chat. The last active conversation is resumed; when there
is none, the first line you type starts a new one.

Type a message and press enter to send it. Commands:
  /end        close the conversation
  /new [text] start another conversation
  /ai on|off  ask the AI assistant for an immediate answer
  /resend     retry the last message that failed to send
  /retry      reload a conversation that failed to load
  /quit       leave (the conversation stays open)
`),
		Example: strings.TrimSpace(`
  ssync chat
  ssync chat --subject "Billing question" --ask-ai
  ssync chat -o jsonl < script.txt
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.liveEngine(cmd, api.RoleUser)
			if err != nil {
				return err
			}
			defer eng.Close()

			w, err := views.NewWidget(eng, views.WidgetOptions{Subject: subject, AskAI: askAI})
			if err != nil {
				return err
			}
			return runView(cmd, eng, w, func(ctx context.Context, r views.Renderer) {
				id, err := w.Open(ctx)
				switch {
				case err != nil && api.IsNotFoundError(err):
					r.Notice(fmt.Sprintf("conversation %s no longer exists; type a message to start a new one", id))
				case id == "":
					r.Notice("type a message to start a conversation (/help for commands)")
				}
			})
		}),
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Subject for a new conversation")
	cmd.Flags().BoolVar(&askAI, "ask-ai", false, "Ask the AI assistant to answer each message")
	flagAlias(cmd.Flags(), "subject", "sub")
	flagAlias(cmd.Flags(), "ask-ai", "ai")

	return cmd
}

func newHelpCenterCmd() *cobra.Command {
	var article string

	cmd := &cobra.Command{
		Use:     "helpcenter",
		Aliases: []string{"hc"},
		Short:   "Ask about a help-center article",
		Long: strings.TrimSpace(`
Chat about a help-center article. Questions go to the AI assistant first;
type /ai off to wait for a human agent instead.
`),
		Example: strings.TrimSpace(`
  ssync helpcenter --article "Resetting your password"
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.liveEngine(cmd, api.RoleUser)
			if err != nil {
				return err
			}
			defer eng.Close()

			hc, err := views.NewHelpCenter(eng, article)
			if err != nil {
				return err
			}
			return runView(cmd, eng, hc, func(ctx context.Context, r views.Renderer) {
				r.Notice(fmt.Sprintf("asking about %q (/help for commands)", hc.Article()))
			})
		}),
	}

	cmd.Flags().StringVar(&article, "article", "", "Help-center article title (required)")
	_ = cmd.MarkFlagRequired("article")
	flagAlias(cmd.Flags(), "article", "art")

	return cmd
}

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "admin",
		Aliases: []string{"agent"},
		Short:   "Agent views",
	}
	cmd.AddCommand(newAdminWatchCmd())
	return cmd
}

func newAdminWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <conversation-id>",
		Short: "Watch and answer a conversation as an agent",
		Long: strings.TrimSpace(`
Open a conversation as an agent. Lines you type are sent as replies.
Commands:
  /status <open|pending|resolved|closed>
  /priority <low|normal|high>
  /end              close the conversation
  /switch <id>      move to another conversation on the same connection
  /read             mark the conversation read
  /resend [id]      retry a failed reply
  /quit
`),
		Example: strings.TrimSpace(`
  ssync admin watch 64f1c2
`),
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := conversationArg(args, 0)
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.requireAgent(); err != nil {
				return err
			}

			eng, err := s.liveEngine(cmd, api.RoleAgent)
			if err != nil {
				return err
			}
			defer eng.Close()

			a, err := views.NewAdminDetail(eng)
			if err != nil {
				return err
			}
			return runView(cmd, eng, a, func(ctx context.Context, r views.Renderer) {
				// A failed load is rendered with a /retry hint.
				_ = a.Open(ctx, id)
			})
		}),
	}
}

// runView runs a view until the input ends, the user quits or the process
// is interrupted. open loads the first conversation; its outcome shows in
// the first rendered view.
func runView(cmd *cobra.Command, eng *syncengine.Engine, h views.Handler, open func(context.Context, views.Renderer)) error {
	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ioStreams := iocontext.GetIO(cmd.Context())
	r := newRenderer(cmd.Context(), ioStreams.Out)
	open(ctx, r)
	return views.Run(ctx, eng, h, ioStreams.In, r)
}

func newRenderer(ctx context.Context, w io.Writer) views.Renderer {
	if !outfmt.IsJSON(ctx) {
		return views.NewTextRenderer(w, nil)
	}
	if q := outfmt.GetQuery(ctx); q != "" {
		return &queryRenderer{w: w, query: q}
	}
	return views.NewJSONRenderer(w)
}

// queryRenderer writes each view through --jq as one compact JSON line.
type queryRenderer struct {
	mu    sync.Mutex
	w     io.Writer
	query string
}

func (q *queryRenderer) Render(v syncengine.View) error {
	return q.write(map[string]any{"view": v})
}

func (q *queryRenderer) Notice(text string) {
	_ = q.write(map[string]any{"notice": text})
}

func (q *queryRenderer) write(v any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	filtered, err := outfmt.ApplyQuery(v, q.query)
	if err != nil {
		return err
	}
	// A select() that matches nothing yields an empty result; skip the line.
	if rs, ok := filtered.([]any); filtered == nil || (ok && len(rs) == 0) {
		return nil
	}
	return outfmt.WriteJSON(q.w, filtered, true)
}
