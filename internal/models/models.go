// Package models defines data structures shared across the question bank services.
package models

import (
	"time"
)

// Theme is the top level of the question taxonomy.
type Theme struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Subtheme is the second taxonomy level. A subtheme always belongs to a theme.
type Subtheme struct {
	ID        string    `json:"id" yaml:"id"`
	ThemeID   string    `json:"theme_id" yaml:"theme_id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// QuestionGroup is the third taxonomy level. A group always belongs to a subtheme.
type QuestionGroup struct {
	ID         string    `json:"id" yaml:"id"`
	SubthemeID string    `json:"subtheme_id" yaml:"subtheme_id"`
	Name       string    `json:"name" yaml:"name"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// Question is a single question bank entry. Every question belongs to exactly
// one theme; subtheme and group are optional and empty when absent. A question
// with a group always has a subtheme (enforced at write time).
type Question struct {
	ID         string    `json:"id" yaml:"id"`
	ThemeID    string    `json:"theme_id" yaml:"theme_id"`
	SubthemeID string    `json:"subtheme_id,omitempty" yaml:"subtheme_id,omitempty"`
	GroupID    string    `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	Statement  string    `json:"statement" yaml:"statement"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// FactKind identifies a per-(user, question) marker.
type FactKind string

const (
	// FactAnswered marks a question the user has answered at least once
	FactAnswered FactKind = "answered"
	// FactIncorrect marks a question the user last answered incorrectly
	FactIncorrect FactKind = "incorrect"
	// FactBookmarked marks a question the user has bookmarked
	FactBookmarked FactKind = "bookmarked"
)

// FactKinds lists every fact kind in a stable order.
var FactKinds = []FactKind{FactAnswered, FactIncorrect, FactBookmarked}

// UserFact is a per-(user, question) marker row. It drives the user-scoped
// aggregates; its index entries are created and destroyed in lockstep with it.
type UserFact struct {
	ID         string    `json:"id" yaml:"id"`
	UserID     string    `json:"user_id" yaml:"user_id"`
	QuestionID string    `json:"question_id" yaml:"question_id"`
	Kind       FactKind  `json:"kind" yaml:"kind"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// FilterMode selects which per-user fact aggregate (if any) a count or sample consults.
type FilterMode string

const (
	// FilterAll counts every question in scope
	FilterAll FilterMode = "all"
	// FilterUnanswered counts questions in scope the user has not answered
	FilterUnanswered FilterMode = "unanswered"
	// FilterIncorrect counts questions the user answered incorrectly
	FilterIncorrect FilterMode = "incorrect"
	// FilterBookmarked counts questions the user bookmarked
	FilterBookmarked FilterMode = "bookmarked"
)

// Valid reports whether m is a known filter mode.
func (m FilterMode) Valid() bool {
	switch m {
	case FilterAll, FilterUnanswered, FilterIncorrect, FilterBookmarked:
		return true
	}
	return false
}

// UserScoped reports whether the mode consults per-user fact aggregates.
func (m FilterMode) UserScoped() bool {
	return m != FilterAll
}

// ScopeSelection is the user-supplied taxonomy selection. Any set may be
// empty, and selections may overlap hierarchically; the scope resolver turns
// them into non-overlapping descriptors.
type ScopeSelection struct {
	ThemeIDs    []string `json:"theme_ids" yaml:"theme_ids"`
	SubthemeIDs []string `json:"subtheme_ids" yaml:"subtheme_ids"`
	GroupIDs    []string `json:"group_ids" yaml:"group_ids"`
}

// Empty reports whether nothing at all was selected.
func (s ScopeSelection) Empty() bool {
	return len(s.ThemeIDs) == 0 && len(s.SubthemeIDs) == 0 && len(s.GroupIDs) == 0
}
