// Package dryrun previews conversation mutations without sending them.
package dryrun

import (
	"context"
	"fmt"
	"io"
	"sort"
)

type contextKey struct{}

// WithDryRun returns a context with dry-run mode enabled or disabled.
func WithDryRun(ctx context.Context, enabled bool) context.Context {
	return context.WithValue(ctx, contextKey{}, enabled)
}

// IsEnabled reports whether dry-run mode is enabled on ctx.
func IsEnabled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(contextKey{}).(bool)
	return v
}

// Preview describes a mutation that was not performed.
type Preview struct {
	Operation      string            `json:"operation"`
	ConversationID string            `json:"conversationId"`
	Details        map[string]string `json:"details,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	DryRun         bool              `json:"dryRun"`
}

// New returns a preview of operation on conversation id.
func New(operation, id string) *Preview {
	return &Preview{Operation: operation, ConversationID: id, Details: map[string]string{}, DryRun: true}
}

// Set records a detail and returns p for chaining.
func (p *Preview) Set(key, value string) *Preview {
	p.Details[key] = value
	return p
}

// Warn appends a warning.
func (p *Preview) Warn(format string, args ...any) *Preview {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
	return p
}

// Write renders the preview as text. Details are sorted by key.
func (p *Preview) Write(w io.Writer) {
	_, _ = fmt.Fprintf(w, "[DRY-RUN] Would %s conversation %s\n", p.Operation, p.ConversationID)

	keys := make([]string, 0, len(p.Details))
	for k := range p.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", k, p.Details[k])
	}
	for _, warning := range p.Warnings {
		_, _ = fmt.Fprintf(w, "  ! %s\n", warning)
	}
	_, _ = fmt.Fprintln(w, "No changes made (dry-run mode)")
}
