package postgres

import (
	"fmt"
	"strings"

	"github.com/poiesic/pagerag/core"
)

// BuildFilter compiles filter into a SQL boolean expression over the jsonb
// metadata column, with placeholders numbered from firstArg. Returns an empty
// expression and no args for an empty filter.
//
// The semantics match storage.MatchFilter: a record missing a filtered
// field never matches.
func BuildFilter(filter *core.SearchFilter, firstArg int) (string, []any) {
	if filter.IsEmpty() {
		return "", nil
	}

	var clauses []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", firstArg+len(args)-1)
	}

	if filter.Source != "" {
		clauses = append(clauses, "metadata->>'source' = "+next(filter.Source))
	}
	if len(filter.Tags) > 0 {
		clauses = append(clauses, "metadata->'tags' ?| "+next(filter.Tags)+"::text[]")
	}
	rangeClause := func(field string, after, before *int64) {
		if after != nil {
			clauses = append(clauses, fmt.Sprintf("(metadata->>'%s')::bigint >= %s", field, next(*after)))
		}
		if before != nil {
			clauses = append(clauses, fmt.Sprintf("(metadata->>'%s')::bigint <= %s", field, next(*before)))
		}
	}
	rangeClause("created_at", filter.CreatedAfter, filter.CreatedBefore)
	rangeClause("updated_at", filter.UpdatedAfter, filter.UpdatedBefore)

	return strings.Join(clauses, " AND "), args
}
