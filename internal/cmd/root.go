package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
	"github.com/taleforge/supportsync/internal/debug"
	"github.com/taleforge/supportsync/internal/dryrun"
	"github.com/taleforge/supportsync/internal/iocontext"
	"github.com/taleforge/supportsync/internal/outfmt"
	"github.com/taleforge/supportsync/internal/resolve"
	"github.com/taleforge/supportsync/internal/validation"
)

const (
	envOutput       = "SUPPORTSYNC_OUTPUT"
	envAllowPrivate = "SUPPORTSYNC_ALLOW_PRIVATE"
	envNoSound      = "SUPPORTSYNC_NO_SOUND"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Output                  string
	JQ                      string
	Debug                   bool
	DryRun                  bool
	Quiet                   bool
	NoSound                 bool
	AllowPrivate            bool
	MetricsAddr             string
	Timeout                 time.Duration
	MaxRateLimitRetries     int
	Max5xxRetries           int
	RateLimitDelay          time.Duration
	ServerErrorDelay        time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerResetTime time.Duration

	MaxRateLimitRetriesSet     bool
	Max5xxRetriesSet           bool
	RateLimitDelaySet          bool
	ServerErrorDelaySet        bool
	CircuitBreakerThresholdSet bool
	CircuitBreakerResetTimeSet bool
}

// flags holds the global command flags. It is package-level state that
// Execute resets on every call; tests rely on that for isolation.
var flags = rootFlags{
	Output:  defaultOutput(),
	Timeout: api.DefaultTimeout,
}

func defaultOutput() string {
	value := strings.TrimSpace(os.Getenv(envOutput))
	if value != "" {
		return value
	}
	return "text"
}

func parseBoolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// loadConfigEnv loads .env from the config directory. Variables already
// exported are not overwritten.
func loadConfigEnv() {
	dir, err := config.Dir()
	if err != nil {
		return
	}
	if err := config.LoadDotEnv(dir); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	// .env must be loaded before the flag reset so env-driven defaults see it.
	loadConfigEnv()

	flags = rootFlags{
		Output:       defaultOutput(),
		AllowPrivate: parseBoolEnv(envAllowPrivate),
		NoSound:      parseBoolEnv(envNoSound),
		Timeout:      api.DefaultTimeout,
	}
	base := *iocontext.GetIO(ctx)

	root := &cobra.Command{
		Use:           "ssync",
		Short:         "Terminal client for real-time support chat",
		Long:          "ssync talks to a support chat server: chat as a customer, answer as an agent, or script one-shot conversation updates.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if flags.JQ != "" && !flagOrAliasChanged(cmd, "output") {
				flags.Output = "json"
			}
			mode, err := outfmt.Parse(flags.Output)
			if err != nil {
				return err
			}
			if flags.JQ != "" && mode == outfmt.Text {
				return fmt.Errorf("--jq requires --output json or jsonl")
			}
			ctx = outfmt.WithMode(ctx, mode)
			if flags.JQ != "" {
				ctx = outfmt.WithQuery(ctx, flags.JQ)
			}

			ioStreams := base
			if flags.Quiet {
				ioStreams.ErrOut = io.Discard
				if mode == outfmt.Text {
					ioStreams.Out = io.Discard
				}
			}
			ctx = iocontext.WithIO(ctx, &ioStreams)
			cmd.SetOut(ioStreams.Out)
			cmd.SetErr(ioStreams.ErrOut)

			validation.SetAllowPrivate(flags.AllowPrivate)
			if flags.AllowPrivate && !flags.Quiet {
				_, _ = fmt.Fprintln(ioStreams.ErrOut, "Warning: allowing private/localhost URLs (use only with trusted targets).")
			}

			debug.SetupLogger(debug.LoggerOptions{
				Debug:  flags.Debug,
				JSON:   mode != outfmt.Text,
				Writer: base.ErrOut,
			})
			ctx = debug.WithDebug(ctx, flags.Debug)
			ctx = dryrun.WithDryRun(ctx, flags.DryRun)

			if err := checkRetryFlags(cmd); err != nil {
				return err
			}
			if flags.Timeout < 0 {
				return fmt.Errorf("--timeout must be >= 0")
			}

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	root.SetOut(base.Out)
	root.SetErr(base.ErrOut)
	root.SetIn(base.In)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl (env SUPPORTSYNC_OUTPUT)")
	pf.StringVar(&flags.JQ, "jq", "", "JQ expression to filter JSON output")
	pf.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "Q", false, "Suppress non-essential output")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "Preview status, priority and end changes without sending them")
	pf.BoolVar(&flags.NoSound, "no-sound", flags.NoSound, "Disable the terminal bell for new messages (env SUPPORTSYNC_NO_SOUND=1)")
	pf.BoolVar(&flags.AllowPrivate, "allow-private", flags.AllowPrivate, "Allow private/localhost URLs (unsafe)")
	pf.StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during chat sessions (e.g., :9464)")
	pf.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "HTTP request timeout (e.g., 30s, 2m)")
	pf.IntVar(&flags.MaxRateLimitRetries, "max-rate-limit-retries", 0, "Max retries for 429 responses (overrides env)")
	pf.IntVar(&flags.Max5xxRetries, "max-5xx-retries", 0, "Max retries for 5xx responses (overrides env)")
	pf.DurationVar(&flags.RateLimitDelay, "rate-limit-delay", 0, "Base delay for 429 retries (e.g., 1s; overrides env)")
	pf.DurationVar(&flags.ServerErrorDelay, "server-error-delay", 0, "Delay between 5xx retries (e.g., 1s; overrides env)")
	pf.IntVar(&flags.CircuitBreakerThreshold, "circuit-breaker-threshold", 0, "Failures before circuit opens (overrides env)")
	pf.DurationVar(&flags.CircuitBreakerResetTime, "circuit-breaker-reset-time", 0, "Circuit breaker reset time (e.g., 30s; overrides env)")

	flagAlias(pf, "output", "out")
	flagAlias(pf, "debug", "dbg")
	flagAlias(pf, "timeout", "to")
	flagAlias(pf, "allow-private", "ap")
	flagAlias(pf, "max-rate-limit-retries", "max-rl")
	flagAlias(pf, "max-5xx-retries", "m5x")
	flagAlias(pf, "circuit-breaker-threshold", "cbt")
	flagAlias(pf, "circuit-breaker-reset-time", "cbr")

	root.AddCommand(newAuthCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newHelpCenterCmd())
	root.AddCommand(newAdminCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPriorityCmd())
	root.AddCommand(newEndCmd())
	root.AddCommand(newActiveCmd())
	root.AddCommand(newVersionCmd())

	targetCmd, err := root.ExecuteC()
	if err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			_, _ = fmt.Fprintln(root.ErrOrStderr(), enhanceUnknownError(err, root, targetCmd))
		}
		return err
	}
	return nil
}

func checkRetryFlags(cmd *cobra.Command) error {
	flags.MaxRateLimitRetriesSet = flagOrAliasChanged(cmd, "max-rate-limit-retries")
	flags.Max5xxRetriesSet = flagOrAliasChanged(cmd, "max-5xx-retries")
	flags.RateLimitDelaySet = flagOrAliasChanged(cmd, "rate-limit-delay")
	flags.ServerErrorDelaySet = flagOrAliasChanged(cmd, "server-error-delay")
	flags.CircuitBreakerThresholdSet = flagOrAliasChanged(cmd, "circuit-breaker-threshold")
	flags.CircuitBreakerResetTimeSet = flagOrAliasChanged(cmd, "circuit-breaker-reset-time")

	switch {
	case flags.MaxRateLimitRetriesSet && flags.MaxRateLimitRetries < 0:
		return fmt.Errorf("--max-rate-limit-retries must be >= 0")
	case flags.Max5xxRetriesSet && flags.Max5xxRetries < 0:
		return fmt.Errorf("--max-5xx-retries must be >= 0")
	case flags.RateLimitDelaySet && flags.RateLimitDelay < 0:
		return fmt.Errorf("--rate-limit-delay must be >= 0")
	case flags.ServerErrorDelaySet && flags.ServerErrorDelay < 0:
		return fmt.Errorf("--server-error-delay must be >= 0")
	case flags.CircuitBreakerThresholdSet && flags.CircuitBreakerThreshold < 0:
		return fmt.Errorf("--circuit-breaker-threshold must be >= 0")
	case flags.CircuitBreakerResetTimeSet && flags.CircuitBreakerResetTime < 0:
		return fmt.Errorf("--circuit-breaker-reset-time must be >= 0")
	}
	return nil
}

// enhanceUnknownError adds a hint to unknown flag errors. Unknown commands
// already carry cobra's own suggestions.
func enhanceUnknownError(err error, root *cobra.Command, targetCmd *cobra.Command) string {
	msg := err.Error()
	if !strings.Contains(msg, "unknown flag") && !strings.Contains(msg, "unknown shorthand flag") {
		return msg
	}
	cmd := targetCmd
	if cmd == nil {
		cmd = root
	}
	helpCmd := strings.TrimSpace(cmd.CommandPath()) + " --help"

	unknown := extractFlag(msg)
	if unknown == "" {
		return fmt.Sprintf("%s\n\nRun %q to see supported flags.", msg, helpCmd)
	}

	seen := make(map[string]bool)
	var names []string
	collect := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Hidden || seen[f.Name] {
				return
			}
			seen[f.Name] = true
			names = append(names, f.Name)
		})
	}
	collect(cmd.Flags())
	collect(cmd.InheritedFlags())

	if matches := resolve.Suggest(strings.TrimLeft(unknown, "-"), names, 1); len(matches) > 0 {
		return fmt.Sprintf("%s\n\nDid you mean %q?\nRun %q to see supported flags.", msg, "--"+matches[0].Name, helpCmd)
	}
	return fmt.Sprintf("%s\n\nRun %q to see supported flags.", msg, helpCmd)
}

// extractFlag pulls the offending flag out of a pflag error message.
func extractFlag(s string) string {
	idx := strings.Index(s, "--")
	if idx < 0 {
		// "unknown shorthand flag: 'a' in -a"
		idx = strings.LastIndex(s, " -")
		if idx < 0 {
			return ""
		}
		idx++
	}
	rest := s[idx:]
	if end := strings.IndexAny(rest, " ="); end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimRight(rest, ".,;:!?\"'")
	if len(strings.TrimLeft(rest, "-")) == 0 {
		return ""
	}
	return rest
}
