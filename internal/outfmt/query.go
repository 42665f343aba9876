package outfmt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// NormalizeExpression undoes shell escaping of '!' (zsh turns != into \!=
// even inside single quotes).
func NormalizeExpression(expr string) string {
	return strings.ReplaceAll(expr, `\!`, `!`)
}

// ApplyQuery runs a jq expression against v. v is round-tripped through
// JSON first so struct tags decide the field names. A single result is
// returned as is; several results come back as a slice.
func ApplyQuery(v any, expression string) (any, error) {
	v = normalizeJSONOutput(v)
	if strings.TrimSpace(expression) == "" {
		return v, nil
	}

	query, err := gojq.Parse(NormalizeExpression(expression))
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}

	data, err := toGeneric(v)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := query.Run(data)
	for {
		r, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := r.(error); ok {
			return nil, fmt.Errorf("jq error: %w", err)
		}
		results = append(results, r)
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode for jq: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode for jq: %w", err)
	}
	return out, nil
}
