package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/cli"
	"github.com/taleforge/supportsync/internal/dryrun"
	"github.com/taleforge/supportsync/internal/iocontext"
	"github.com/taleforge/supportsync/internal/outfmt"
	"github.com/taleforge/supportsync/internal/reconcile"
	"github.com/taleforge/supportsync/internal/resolve"
	"github.com/taleforge/supportsync/internal/syncengine"
)

func newStartCmd() *cobra.Command {
	var (
		subject string
		askAI   bool
	)

	cmd := &cobra.Command{
		Use:   "start [text]",
		Short: "Start a conversation and make it the active one",
		Example: strings.TrimSpace(`
  ssync start --subject "Refund" "My order arrived broken"
  ssync start --subject "Login" --ask-ai "I can't sign in"
`),
		Args: cobra.MaximumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.restEngine(api.RoleUser)
			if err != nil {
				return err
			}
			defer eng.Close()

			if _, err := eng.Start(cmdContext(cmd), api.StartRequest{Subject: subject, Text: text, AskAI: askAI}); err != nil {
				return err
			}
			v := eng.Snapshot()
			if isJSON(cmd) {
				return printJSON(cmd, v)
			}
			printIfNotQuiet(cmd, "Started conversation %s\n", v.ConversationID)
			printEntries(cmd, v.Messages)
			return nil
		}),
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Conversation subject")
	cmd.Flags().BoolVar(&askAI, "ask-ai", false, "Ask the AI assistant to answer the first message")
	flagAlias(cmd.Flags(), "subject", "sub")
	flagAlias(cmd.Flags(), "ask-ai", "ai")

	return cmd
}

func newSendCmd() *cobra.Command {
	var askAI bool

	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a message to a conversation",
		Long:  "Send a message. Use - as the text to read it from stdin.",
		Example: strings.TrimSpace(`
  ssync send 64f1c2 "Any update on this?"
  echo "see attached log" | ssync send 64f1c2 -
`),
		Args: cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := conversationArg(args, 0)
			if err != nil {
				return err
			}
			text, err := messageText(iocontext.GetIO(cmd.Context()).In, args[1:])
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.restEngine(s.cfg.Role)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmdContext(cmd)
			if err := eng.Open(ctx, id); err != nil {
				return err
			}
			entry, err := eng.Send(ctx, text, askAI)
			if err != nil {
				return err
			}
			replies := newerThan(eng.Snapshot().Messages, entry)
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"message": entry, "replies": replies})
			}
			printIfNotQuiet(cmd, "Sent message %s\n", entry.ID)
			printEntries(cmd, replies)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&askAI, "ask-ai", false, "Ask the AI assistant to answer")
	flagAlias(cmd.Flags(), "ask-ai", "ai")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		since string
	)

	cmd := &cobra.Command{
		Use:     "history <conversation-id>",
		Aliases: []string{"messages", "log"},
		Short:   "Show a conversation's messages",
		Example: strings.TrimSpace(`
  ssync history 64f1c2
  ssync history 64f1c2 --limit 10
  ssync history https://support.example.com/chat/64f1c2 --since "2h ago"
  ssync history 64f1c2 -o json --jq '.messages[] | select(.sender == "agent") | .text'
`),
		Args: cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := conversationArg(args, 0)
			if err != nil {
				return err
			}
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			var after time.Time
			if since != "" {
				if after, err = cli.ParseSince(since, time.Now()); err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			eng, err := s.restEngine(s.cfg.Role)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Open(cmdContext(cmd), id); err != nil {
				return err
			}
			v := eng.Snapshot()
			if !after.IsZero() {
				v.Messages = sinceTime(v.Messages, after)
			}
			if limit > 0 && len(v.Messages) > limit {
				v.Messages = v.Messages[len(v.Messages)-limit:]
			}

			ioStreams := iocontext.GetIO(cmd.Context())
			f := outfmt.NewFormatter(cmd.Context(), ioStreams.Out, ioStreams.ErrOut)
			if isJSON(cmd) {
				return f.Output(v)
			}
			printIfNotQuiet(cmd, "Conversation %s  status: %s  priority: %s\n", v.ConversationID, orDash(string(v.Status)), orDash(string(v.Priority)))
			if len(v.Messages) == 0 {
				f.Empty("No messages.")
				return nil
			}
			f.StartTable([]string{"TIME", "FROM", "TEXT", "STATE"})
			for _, e := range v.Messages {
				f.Row(formatTimestamp(e.CreatedAt), string(e.Sender), oneLine(e.Text), entryState(e))
			}
			return f.EndTable()
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the newest N messages")
	cmd.Flags().StringVar(&since, "since", "", "Show messages created at or after this time (2h, 3d ago, yesterday, 2006-01-02)")
	flagAlias(cmd.Flags(), "limit", "lim")
	flagAlias(cmd.Flags(), "since", "sn")

	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := conversationArg(args, 0)
			if err != nil {
				return err
			}
			client, _, err := getClient()
			if err != nil {
				return err
			}
			res, err := client.Support().MarkRead(cmdContext(cmd), id)
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"conversationId": id, "seenAt": res.SeenAt})
			}
			printIfNotQuiet(cmd, "Marked conversation %s as read\n", id)
			return nil
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <conversation-id> <status>",
		Short: "Change a conversation's status (agents)",
		Long:  "Change the status. Accepts open, pending, resolved or closed; unambiguous prefixes and aliases such as reopen or done work too.",
		Example: strings.TrimSpace(`
  ssync status 64f1c2 pending
  ssync status 64f1c2 resolve
`),
		Args: cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := conversationArg(args, 0)
			if err != nil {
				return err
			}
			status, err := resolve.Status(args[1])
			if err != nil {
				return err
			}
			return updateConversation(cmd, id, func(ctx context.Context, eng *syncengine.Engine) error {
				return eng.SetStatus(ctx, status)
			}, "status", string(status))
		}),
	}
}

func newPriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority <conversation-id> <priority>",
		Short: "Change a conversation's priority (agents)",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			id, err := conversationArg(args, 0)
			if err != nil {
				return err
			}
			priority, err := resolve.Priority(args[1])
			if err != nil {
				return err
			}
			return updateConversation(cmd, id, func(ctx context.Context, eng *syncengine.Engine) error {
				return eng.SetPriority(ctx, priority)
			}, "priority", string(priority))
		}),
	}
}

// updateConversation opens id as an agent, applies fn and prints the
// resulting conversation. With --dry-run it prints the change instead.
func updateConversation(cmd *cobra.Command, id string, fn func(context.Context, *syncengine.Engine) error, field, value string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.requireAgent(); err != nil {
		return err
	}

	eng, err := s.restEngine(api.RoleAgent)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := cmdContext(cmd)
	if err := eng.Open(ctx, id); err != nil {
		return err
	}
	if dryrun.IsEnabled(ctx) {
		v := eng.Snapshot()
		current := string(v.Status)
		if field == "priority" {
			current = string(v.Priority)
		}
		p := dryrun.New("set "+field+" on", id).Set("from", orDash(current)).Set("to", value)
		if current == value {
			p.Warn("%s is already %s", field, value)
		}
		if v.ClosedObserved {
			p.Warn("conversation is closed; the server will reject the change")
		}
		return printPreview(cmd, p)
	}
	if err := fn(ctx, eng); err != nil {
		return err
	}
	v := eng.Snapshot()
	if isJSON(cmd) {
		return printJSON(cmd, conversationSummary(v))
	}
	printIfNotQuiet(cmd, "Set %s %s on conversation %s\n", field, value, id)
	return nil
}

func newEndCmd() *cobra.Command {
	var concurrency int64

	cmd := &cobra.Command{
		Use:     "end <conversation-id>...",
		Aliases: []string{"close"},
		Short:   "Close one or more conversations",
		Example: strings.TrimSpace(`
  ssync end 64f1c2
  ssync end 64f1c2 64f1c3 64f1c4
`),
		Args: cobra.MinimumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			ids := make([]string, 0, len(args))
			for i := range args {
				id, err := conversationArg(args, i)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			if dryrun.IsEnabled(cmdContext(cmd)) {
				previews := make([]*dryrun.Preview, 0, len(ids))
				for _, id := range ids {
					previews = append(previews, dryrun.New("end", id).Set("status", string(api.StatusClosed)))
				}
				if isJSON(cmd) {
					return printJSON(cmd, previews)
				}
				ioStreams := iocontext.GetIO(cmd.Context())
				for _, p := range previews {
					p.Write(ioStreams.Out)
				}
				return nil
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ioStreams := iocontext.GetIO(cmd.Context())
			results := runBulkOperation(cmdContext(cmd), ids, concurrency, !isJSON(cmd), ioStreams.ErrOut,
				func(ctx context.Context, id string) (map[string]any, error) {
					eng, err := s.restEngine(s.cfg.Role)
					if err != nil {
						return nil, err
					}
					defer eng.Close()
					if err := eng.Open(ctx, id); err != nil {
						return nil, err
					}
					if err := eng.End(ctx); err != nil {
						return nil, err
					}
					return conversationSummary(eng.Snapshot()), nil
				})

			if isJSON(cmd) {
				if err := printJSON(cmd, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Success {
						printIfNotQuiet(cmd, "Closed conversation %s\n", r.ID)
					} else {
						_, _ = fmt.Fprintf(ioStreams.ErrOut, "Failed to close %s: %s\n", r.ID, r.Error)
					}
				}
			}

			if ok, failed := countResults(results); failed > 0 {
				if len(results) > 1 {
					printIfNotQuiet(cmd, "%d closed, %d failed\n", ok, failed)
				}
				return firstError(results)
			}
			return nil
		}),
	}

	cmd.Flags().Int64Var(&concurrency, "concurrency", DefaultConcurrency, "Max concurrent requests")
	flagAlias(cmd.Flags(), "concurrency", "conc")

	return cmd
}

func newActiveCmd() *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "active",
		Short: "Show or forget the conversation the chat resumes",
		Example: strings.TrimSpace(`
  ssync active
  ssync active --clear
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmdContext(cmd)
			id, err := s.store.Get(ctx)
			if err != nil {
				return err
			}
			if clear {
				if err := s.store.Clear(ctx); err != nil {
					return err
				}
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"conversationId": id, "cleared": clear && id != ""})
			}
			switch {
			case id == "":
				printIfNotQuiet(cmd, "No active conversation\n")
			case clear:
				printIfNotQuiet(cmd, "Forgot conversation %s\n", id)
			default:
				printIfNotQuiet(cmd, "%s\n", id)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Forget the active conversation")

	return cmd
}

// messageText joins args into the message body; a single "-" reads in.
func messageText(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read message from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
	return strings.Join(args, " "), nil
}

// newerThan returns the confirmed entries listed after sent.
func newerThan(entries []reconcile.Entry, sent reconcile.Entry) []reconcile.Entry {
	var out []reconcile.Entry
	found := false
	for _, e := range entries {
		if found && e.ID != "" {
			out = append(out, e)
		}
		if e.Key() == sent.Key() {
			found = true
		}
	}
	return out
}

func printPreview(cmd *cobra.Command, p *dryrun.Preview) error {
	if isJSON(cmd) {
		return printJSON(cmd, p)
	}
	p.Write(iocontext.GetIO(cmd.Context()).Out)
	return nil
}

// sinceTime keeps entries created at or after t.
func sinceTime(entries []reconcile.Entry, t time.Time) []reconcile.Entry {
	out := make([]reconcile.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.CreatedAt.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

func conversationSummary(v syncengine.View) map[string]any {
	return map[string]any{
		"conversationId": v.ConversationID,
		"status":         v.Status,
		"priority":       v.Priority,
		"closed":         v.ClosedObserved,
	}
}

func printEntries(cmd *cobra.Command, entries []reconcile.Entry) {
	for _, e := range entries {
		printIfNotQuiet(cmd, "[%s] %s: %s\n", formatTimestamp(e.CreatedAt), e.Sender, e.Text)
	}
}

func entryState(e reconcile.Entry) string {
	switch {
	case e.State == reconcile.StateFailed:
		return "failed"
	case e.Seen:
		return "seen"
	default:
		return string(e.State)
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) > 80 {
		return string([]rune(s)[:77]) + "..."
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
