// Package sqlparse classifies a SQL statement's operation and target table
// well enough to decide whether the capture interceptor needs to audit it.
// It is not a general SQL parser: it recognizes the handful of statement
// shapes the CDC pipeline cares about (INSERT/UPDATE/DELETE) after skipping
// leading whitespace and comments, and extracts the table name whether it's
// bare or quoted with backticks, double quotes, or single quotes.
package sqlparse

import (
	"regexp"
	"strings"

	hermodcdc "github.com/uschtwill/hermod-cdc"
)

// tableNamePattern matches a table reference in any of its quoted forms or
// bare. Exactly one of the four capture groups is non-empty on a match.
const tableNamePattern = "(?:`([^`]+)`|\"([^\"]+)\"|'([^']+)'|([A-Za-z0-9_.]+))"

var (
	insertRe = regexp.MustCompile(`(?is)^\s*insert\s+(?:or\s+\w+\s+)?into\s+` + tableNamePattern)
	updateRe = regexp.MustCompile(`(?is)^\s*update\s+` + tableNamePattern)
	deleteRe = regexp.MustCompile(`(?is)^\s*delete\s+from\s+` + tableNamePattern)
)

// Classify returns the operation and table name for a write statement, and
// ok=false for anything it doesn't recognize as INSERT/UPDATE/DELETE.
func Classify(sql string) (op hermodcdc.Operation, table string, ok bool) {
	normalized := normalize(sql)
	if normalized == "" {
		return "", "", false
	}

	switch {
	case hasPrefix(normalized, "insert"):
		if m := insertRe.FindStringSubmatch(normalized); m != nil {
			return hermodcdc.OpInsert, unqualify(matchedTable(m)), true
		}
		return hermodcdc.OpInsert, "", false
	case hasPrefix(normalized, "update"):
		if m := updateRe.FindStringSubmatch(normalized); m != nil {
			return hermodcdc.OpUpdate, unqualify(matchedTable(m)), true
		}
		return hermodcdc.OpUpdate, "", false
	case hasPrefix(normalized, "delete"):
		if m := deleteRe.FindStringSubmatch(normalized); m != nil {
			return hermodcdc.OpDelete, unqualify(matchedTable(m)), true
		}
		return hermodcdc.OpDelete, "", false
	default:
		return "", "", false
	}
}

// matchedTable returns whichever of a FindStringSubmatch result's quoted or
// bare capture groups matched.
func matchedTable(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// IsWrite reports whether sql is one of the three statement kinds Classify
// understands, without requiring a recognizable table name.
func IsWrite(sql string) bool {
	normalized := normalize(sql)
	return hasPrefix(normalized, "insert") || hasPrefix(normalized, "update") || hasPrefix(normalized, "delete")
}

// normalize strips leading whitespace and leading "--" line comments and
// "/* */" block comments, repeating until neither remains, so a statement
// wrapped in tooling-generated comments still classifies correctly.
func normalize(sql string) string {
	s := strings.TrimLeft(sql, " \t\r\n")
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			if i := strings.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
			} else {
				s = ""
			}
		case strings.HasPrefix(s, "/*"):
			if i := strings.Index(s, "*/"); i >= 0 {
				s = s[i+2:]
			} else {
				s = ""
			}
		default:
			return s
		}
		s = strings.TrimLeft(s, " \t\r\n")
	}
}

func hasPrefix(sql, kw string) bool {
	if len(sql) < len(kw) {
		return false
	}
	return strings.EqualFold(sql[:len(kw)], kw)
}

func unqualify(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
