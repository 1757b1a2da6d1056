package domain

import (
	"fmt"
	"strings"

	appErrors "mmu/internal/errors"
)

// NotFoundError reports a group lookup that matched nothing.
type NotFoundError struct {
	Query       string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("could not find '%s'", e.Query)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", quoteJoin(e.Suggestions))
	}
	return msg
}

func groupNotFoundError(query string, suggestions []string) error {
	nf := &NotFoundError{Query: query, Suggestions: suggestions}
	return appErrors.New(appErrors.CodeNotFound, nf.Error(), nf)
}

func invalidPatternError(pattern string) error {
	return appErrors.New(appErrors.CodeInvalidPattern, fmt.Sprintf("invalid pattern %q: must contain exactly one '*'", pattern), nil)
}

func quoteJoin(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, ", ")
}
