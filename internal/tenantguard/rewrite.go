// Package tenantguard rewrites a tenant-scoped SQL template so every query
// issued against a multi-tenant table carries an injected tenant predicate,
// preventing a caller-supplied filter from ever substituting for it. There
// is no teacher or pack precedent for SQL-template rewriting — this is
// written fresh, in the teacher's small-package, table-driven-test idiom
// (see internal/router's test style).
package tenantguard

import (
	"fmt"
	"strings"
)

// BindName is the placeholder the tenant predicate binds to; callers supply
// its value as a query argument alongside whatever the template itself
// expects.
const BindName = ":tenant_id"

// keywords are the statement clauses a tenant predicate may be injected
// before, matched case-insensitively and only outside quoted regions.
var keywords = []string{"where", "order by", "group by"}

// Rewrite injects "<column> = :tenant_id" into query immediately before the
// first unquoted occurrence of WHERE/ORDER BY/GROUP BY (as an added AND
// clause if WHERE already exists, or as a new WHERE otherwise), or appends
// it at the end if none of those clauses are present. column must already
// be a trusted, caller-controlled identifier — never derived from request
// input.
func Rewrite(query, column string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("tenantguard: query is empty")
	}
	if strings.TrimSpace(column) == "" {
		return "", fmt.Errorf("tenantguard: column is empty")
	}

	idx, kw, err := firstUnquotedKeyword(query)
	if err != nil {
		return "", err
	}

	predicate := fmt.Sprintf("%s = %s", column, BindName)

	if idx < 0 {
		return strings.TrimRight(query, " \t\n;") + fmt.Sprintf(" WHERE %s", predicate), nil
	}

	if kw == "where" {
		// Insert as an additional AND clause right after WHERE itself, so
		// it always applies regardless of what the existing predicate does.
		insertAt := idx + len("where")
		return query[:insertAt] + fmt.Sprintf(" %s AND", predicate) + query[insertAt:], nil
	}

	// ORDER BY / GROUP BY with no preceding WHERE: inject a new WHERE
	// clause right before the keyword.
	return query[:idx] + fmt.Sprintf("WHERE %s ", predicate) + query[idx:], nil
}

// firstUnquotedKeyword scans query for the first occurrence of a clause
// keyword that lies outside single- or double-quoted string literals,
// matching on word boundaries so e.g. "anywhere" doesn't match "where".
// It returns -1 if none is found. The whole query is scanned either way, so
// a quoted literal left unterminated is reported as an error.
func firstUnquotedKeyword(query string) (index int, keyword string, err error) {
	lower := strings.ToLower(query)
	n := len(query)

	var inSingle, inDouble bool
	best := -1
	bestKw := ""

	for i := 0; i < n; i++ {
		c := query[i]
		switch {
		case inSingle:
			if c == '\'' {
				if i+1 < n && query[i+1] == '\'' {
					i++ // escaped quote within a literal
					continue
				}
				inSingle = false
			}
			continue
		case inDouble:
			if c == '"' {
				inDouble = false
			}
			continue
		case c == '\'':
			inSingle = true
			continue
		case c == '"':
			inDouble = true
			continue
		}

		for _, kw := range keywords {
			if !strings.HasPrefix(lower[i:], kw) {
				continue
			}
			if !isWordBoundary(lower, i) || !isWordBoundary(lower, i+len(kw)) {
				continue
			}
			if best < 0 {
				best = i
				bestKw = kw
			}
		}
	}

	if inSingle || inDouble {
		return -1, "", fmt.Errorf("tenantguard: unterminated quoted literal in query")
	}
	return best, bestKw, nil
}

// isWordBoundary reports whether position i in s is outside an identifier
// run — i.e. at a string edge or adjacent to a non-alphanumeric,
// non-underscore rune.
func isWordBoundary(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(isIdentByte(s[i-1]) && isIdentByte(c))
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
