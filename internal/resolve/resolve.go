// Package resolve maps loosely typed names onto the fixed vocabularies of the
// support API: statuses, priorities and viewer roles.
package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/taleforge/supportsync/internal/api"
)

// Match is a fuzzy match result with score.
type Match struct {
	Name  string
	Score int
}

var ErrEmptyQuery = errors.New("empty value")

// AmbiguousError indicates several names matched equally well.
type AmbiguousError struct {
	Field   string
	Query   string
	Matches []Match
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "ambiguous %s %q", e.Field, e.Query)
	if len(e.Matches) > 0 {
		b.WriteString(", did you mean:")
		for _, m := range e.Matches {
			_, _ = fmt.Fprintf(&b, " %s", m.Name)
		}
	}
	return b.String()
}

// NoMatchError is returned when nothing matches.
type NoMatchError struct {
	Field   string
	Query   string
	Allowed []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("unknown %s %q (valid: %s)", e.Field, e.Query, strings.Join(e.Allowed, ", "))
}

var (
	statusAliases = map[string]string{
		"close":   string(api.StatusClosed),
		"done":    string(api.StatusClosed),
		"reopen":  string(api.StatusOpen),
		"resolve": string(api.StatusResolved),
		"wait":    string(api.StatusPending),
		"waiting": string(api.StatusPending),
	}
	priorityAliases = map[string]string{
		"medium": string(api.PriorityNormal),
		"med":    string(api.PriorityNormal),
		"hi":     string(api.PriorityHigh),
	}
	roleAliases = map[string]string{
		"customer": string(api.RoleUser),
		"admin":    string(api.RoleAgent),
		"support":  string(api.RoleAgent),
	}
)

// Status resolves a conversation status.
func Status(query string) (api.Status, error) {
	name, err := Name("status", query, api.ValidStatuses, statusAliases)
	return api.Status(name), err
}

// Priority resolves a conversation priority.
func Priority(query string) (api.Priority, error) {
	name, err := Name("priority", query, api.ValidPriorities, priorityAliases)
	return api.Priority(name), err
}

// ViewerRole resolves the role a client connects as; only user and agent qualify.
func ViewerRole(query string) (api.Role, error) {
	name, err := Name("role", query, []string{string(api.RoleUser), string(api.RoleAgent)}, roleAliases)
	return api.Role(name), err
}

// Name returns the allowed value query refers to. Exact case-insensitive
// matches and aliases win over fuzzy matches.
func Name(field, query string, allowed []string, aliases map[string]string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", fmt.Errorf("%s: %w", field, ErrEmptyQuery)
	}
	for _, a := range allowed {
		if strings.EqualFold(a, q) {
			return a, nil
		}
	}
	if target, ok := aliases[q]; ok {
		return target, nil
	}

	results := fuzzy.Find(q, allowed)
	if len(results) == 0 {
		return "", &NoMatchError{Field: field, Query: query, Allowed: allowed}
	}
	if len(results) > 1 && results[0].Score == results[1].Score {
		return "", &AmbiguousError{Field: field, Query: query, Matches: buildMatches(results, 5)}
	}
	return results[0].Str, nil
}

// Suggest returns up to limit allowed values ranked by similarity to query.
func Suggest(query string, allowed []string, limit int) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || len(allowed) == 0 || limit <= 0 {
		return nil
	}
	return buildMatches(fuzzy.Find(q, allowed), limit)
}

func buildMatches(results fuzzy.Matches, limit int) []Match {
	if len(results) == 0 || limit <= 0 {
		return nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{Name: r.Str, Score: r.Score}
	}
	return matches
}
