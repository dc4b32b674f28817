package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Reddit subreddit names: 2-21 chars of letters, digits and underscores.
var subredditRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_]{1,20}$`)

const maxQueryLength = 512

// ValidateQuery checks a Query built from configuration.
func ValidateQuery(q Query) error {
	if strings.TrimSpace(q.Label) == "" {
		return NewValidationError("label", q.Label, ErrInvalidQuery)
	}
	term := strings.TrimSpace(q.Term)
	if term == "" {
		return NewValidationError("term", q.Term, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(term) > maxQueryLength {
		return NewValidationError("term", Truncate(term, 32), ErrInvalidQuery)
	}
	if !q.Scope.Valid() {
		return NewValidationError("scope", string(q.Scope), ErrInvalidQuery)
	}
	if !q.RunType.Valid() {
		return NewValidationError("run_type", string(q.RunType), ErrInvalidQuery)
	}
	if q.Scope == ScopeSubredditScan && q.Subreddit == "" {
		return NewValidationError("subreddit", q.Subreddit, ErrInvalidQuery)
	}
	if q.Subreddit != "" && !subredditRe.MatchString(q.Subreddit) {
		return NewValidationError("subreddit", q.Subreddit, ErrInvalidQuery)
	}
	return nil
}

// ValidateQueries validates every query and rejects duplicate labels.
func ValidateQueries(qs []Query) error {
	if len(qs) == 0 {
		return ErrNoQueries
	}
	seen := make(map[string]bool, len(qs))
	for i, q := range qs {
		if err := ValidateQuery(q); err != nil {
			return fmt.Errorf("query %d: %w", i, err)
		}
		if seen[q.Label] {
			return fmt.Errorf("query %d: %w", i, NewValidationError("label", q.Label, ErrInvalidQuery))
		}
		seen[q.Label] = true
	}
	return nil
}
