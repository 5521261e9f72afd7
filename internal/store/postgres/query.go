package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// listQuery appends the time window, newest-first ordering and pagination of
// opts to a SELECT whose WHERE clause already holds len(args) placeholders.
func listQuery(base, tsCol string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	argIdx := len(args) + 1

	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= $%d", tsCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= $%d", tsCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	fmt.Fprintf(&b, " ORDER BY %s DESC", tsCol)

	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return b.String(), args
}
