package feed

import (
	"bantahserver/models"
)

// HomeTab is a section of the challenges home view.
type HomeTab string

const (
	HomeFeatured           HomeTab = "featured"
	HomeActive             HomeTab = "active"
	HomePending            HomeTab = "pending"
	HomeCompleted          HomeTab = "completed"
	HomeAwaitingResolution HomeTab = "awaiting_resolution"
)

// DefaultHomeTab is selected whenever the requested tab has nothing to show.
const DefaultHomeTab = HomeFeatured

// Sections holds the per-tab lists of the home view.
type Sections struct {
	Pending            []View `json:"pending"`
	Active             []View `json:"active"`
	AwaitingResolution []View `json:"awaitingResolution"`
	Completed          []View `json:"completed"`
	Featured           []View `json:"featured"`
}

// Counts is the size of each section.
type Counts struct {
	Pending            int `json:"pending"`
	Active             int `json:"active"`
	AwaitingResolution int `json:"awaitingResolution"`
	Completed          int `json:"completed"`
	Featured           int `json:"featured"`
}

// Split sorts views into home sections for userID. A view can land in more
// than one section or in none.
func Split(list []View, userID string) Sections {
	s := Sections{
		Pending:            []View{},
		Active:             []View{},
		AwaitingResolution: []View{},
		Completed:          []View{},
		Featured:           []View{},
	}
	for _, v := range list {
		if NeedsAction(v, userID) {
			s.Pending = append(s.Pending, v)
		}
		if v.Status == models.StatusActive && !v.AdminCreated {
			s.Active = append(s.Active, v)
		}
		if awaitingResolution(v, userID) {
			s.AwaitingResolution = append(s.AwaitingResolution, v)
		}
		if v.Status == models.StatusCompleted && !v.AdminCreated {
			s.Completed = append(s.Completed, v)
		}
		if v.AdminCreated && v.Status != models.StatusPendingAdmin {
			s.Featured = append(s.Featured, v)
		}
	}
	return s
}

// Counts returns the section sizes.
func (s Sections) Counts() Counts {
	return Counts{
		Pending:            len(s.Pending),
		Active:             len(s.Active),
		AwaitingResolution: len(s.AwaitingResolution),
		Completed:          len(s.Completed),
		Featured:           len(s.Featured),
	}
}

// Only participants of an admin pool see it while it waits for resolution.
func awaitingResolution(v View, userID string) bool {
	return v.Status == models.StatusPendingAdmin && v.AdminCreated &&
		(v.IsParticipant(userID) || (userID != "" && v.CreatorID == userID))
}

// ResolveTab keeps selected if it still has content for userID and falls back
// to DefaultHomeTab otherwise. featured, active and completed are always valid;
// pending and awaiting_resolution need a signed-in user and a non-empty section.
func ResolveTab(selected HomeTab, userID string, counts Counts) HomeTab {
	switch selected {
	case HomeFeatured, HomeActive, HomeCompleted:
		return selected
	case HomePending:
		if userID != "" && counts.Pending > 0 {
			return selected
		}
	case HomeAwaitingResolution:
		if userID != "" && counts.AwaitingResolution > 0 {
			return selected
		}
	}
	return DefaultHomeTab
}
