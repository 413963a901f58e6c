package feed

import (
	"strings"

	"bantahserver/models"
)

// Tab selects a status bucket in the challenge list.
type Tab string

const (
	TabAll       Tab = "all"
	TabP2P       Tab = "p2p"
	TabOpen      Tab = "open"
	TabActive    Tab = "active"
	TabPending   Tab = "pending"
	TabCompleted Tab = "completed"
	TabEnded     Tab = "ended"
)

// CategoryAll matches every category.
const CategoryAll = "all"

// Query is the filter state for one list request.
type Query struct {
	Search   string
	Category string
	Tab      Tab
}

// Filter returns the views matching q, preserving input order.
func Filter(list []View, q Query) []View {
	search := strings.ToLower(q.Search)
	out := make([]View, 0, len(list))
	for _, v := range list {
		if matchesSearch(v, search) && matchesCategory(v, q.Category) && matchesTab(v, q.Tab) {
			out = append(out, v)
		}
	}
	return out
}

// Matches reports whether a single view passes q.
func Matches(v View, q Query) bool {
	return matchesSearch(v, strings.ToLower(q.Search)) && matchesCategory(v, q.Category) && matchesTab(v, q.Tab)
}

// search must already be lower-cased.
func matchesSearch(v View, search string) bool {
	if search == "" {
		return true
	}
	for _, field := range []string{v.Title, v.Description, v.Category, v.ChallengerUser.Username, v.ChallengedUser.Username} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

func matchesCategory(v View, category string) bool {
	return category == "" || category == CategoryAll || v.Category == category
}

func matchesTab(v View, tab Tab) bool {
	switch tab {
	case "", TabAll:
		return true
	case TabP2P:
		return !v.AdminCreated
	case TabOpen, TabActive, TabPending, TabCompleted:
		return v.Status == string(tab)
	case TabEnded:
		return IsEnded(v.Status)
	default:
		return false
	}
}

// IsEnded reports whether status is terminal.
func IsEnded(status string) bool {
	switch status {
	case models.StatusCompleted, models.StatusCancelled, models.StatusDisputed:
		return true
	}
	return false
}
