package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
	"github.com/taleforge/supportsync/internal/convstate"
	"github.com/taleforge/supportsync/internal/iocontext"
	"github.com/taleforge/supportsync/internal/outfmt"
	"github.com/taleforge/supportsync/internal/syncengine"
	"github.com/taleforge/supportsync/internal/urlparse"
	"github.com/taleforge/supportsync/internal/validation"
)

// cmdContext returns the command context, never nil.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// printJSON writes v in the active JSON mode, filtered by --jq.
func printJSON(cmd *cobra.Command, v any) error {
	ioStreams := iocontext.GetIO(cmd.Context())
	filtered, err := outfmt.ApplyQuery(v, outfmt.GetQuery(cmd.Context()))
	if err != nil {
		return err
	}
	return outfmt.WriteJSON(ioStreams.Out, filtered, outfmt.ModeFromContext(cmd.Context()) == outfmt.JSONL)
}

func printJSONErr(cmd *cobra.Command, v any) error {
	ioStreams := iocontext.GetIO(cmd.Context())
	return outfmt.WriteJSON(ioStreams.ErrOut, v, false)
}

// isJSON checks if the command context wants JSON output
func isJSON(cmd *cobra.Command) bool {
	return outfmt.IsJSON(cmd.Context())
}

// printIfNotQuiet prints to stdout only if not in quiet mode
func printIfNotQuiet(cmd *cobra.Command, format string, args ...any) {
	if flags.Quiet {
		return
	}
	ioStreams := iocontext.GetIO(cmd.Context())
	_, _ = fmt.Fprintf(ioStreams.Out, format, args...)
}

// conversationArg returns the normalized conversation id at args[i].
// A conversation link is accepted in place of the id.
func conversationArg(args []string, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("conversation id is required")
	}
	raw := args[i]
	if urlparse.IsURL(raw) {
		link, err := urlparse.Parse(raw)
		if err != nil {
			return "", err
		}
		raw = link.ConversationID
	}
	return validation.NormalizeConversationID(raw)
}

// aliasBridgeValue wraps a pflag.Value so that Set() on the alias also
// marks the canonical flag as Changed.
type aliasBridgeValue struct {
	pflag.Value
	canonical *pflag.Flag
}

func (v *aliasBridgeValue) Set(s string) error {
	if err := v.Value.Set(s); err != nil {
		return err
	}
	v.canonical.Changed = true
	return nil
}

// flagAlias registers a hidden alias for an existing flag. Both flags
// share the same Value.
func flagAlias(fs *pflag.FlagSet, name, alias string) {
	f := fs.Lookup(name)
	if f == nil {
		panic(fmt.Sprintf("flagAlias: flag %q not found", name))
	}
	a := *f
	a.Name = alias
	a.Shorthand = ""
	a.Usage = ""
	a.Hidden = true
	a.Value = &aliasBridgeValue{Value: f.Value, canonical: f}
	ann := map[string][]string{"alias-of": {name}}
	for k, v := range f.Annotations {
		if k == cobra.BashCompOneRequiredFlag {
			continue
		}
		ann[k] = v
	}
	a.Annotations = ann
	fs.AddFlag(&a)
}

// flagOrAliasChanged returns true if the named flag or any of its
// hidden aliases was explicitly set by the user.
func flagOrAliasChanged(cmd *cobra.Command, name string) bool {
	if cmd.Flags().Changed(name) || cmd.InheritedFlags().Changed(name) {
		return true
	}
	aliasChanged := func(fs *pflag.FlagSet) bool {
		found := false
		fs.VisitAll(func(f *pflag.Flag) {
			if found {
				return
			}
			if ann, ok := f.Annotations["alias-of"]; ok && len(ann) > 0 && ann[0] == name && fs.Changed(f.Name) {
				found = true
			}
		})
		return found
	}
	return aliasChanged(cmd.Flags()) || aliasChanged(cmd.InheritedFlags())
}

// errAlreadyHandled is a sentinel error indicating the error was already printed to stderr.
// Commands using RunE return this to signal Cobra that an error occurred (for exit code)
// without Cobra printing it again (since SilenceErrors is true on root command).
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string {
	return e.err.Error()
}

func (e *handledError) Unwrap() error {
	return errAlreadyHandled
}

func (e *handledError) ExitCode() int {
	return e.exitCode
}

// structuredError classifies local sentinel errors before falling back to
// the API classification.
func structuredError(err error) *api.StructuredError {
	switch {
	case errors.Is(err, convstate.ErrConversationClosed):
		return api.NewStructuredError(api.ErrConflict, err.Error())
	case errors.Is(err, config.ErrNotConfigured):
		return api.NewStructuredError(api.ErrUnauthorized, err.Error())
	case errors.Is(err, convstate.ErrNoConversation), errors.Is(err, syncengine.ErrAgentOnly):
		return api.NewStructuredError(api.ErrBadRequest, err.Error())
	}
	if structured := api.StructuredErrorFromError(err); structured != nil {
		return structured
	}
	return api.NewStructuredError(api.ErrUnknown, err.Error())
}

// RunE wraps a command function with enhanced error handling
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		if isJSON(cmd) {
			_ = printJSONErr(cmd, map[string]any{"error": structuredError(err)})
		} else {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), HandleError(err))
		}
		// The handled error keeps the underlying message for tests.
		return &handledError{err: err, exitCode: ExitCode(err)}
	}
}
