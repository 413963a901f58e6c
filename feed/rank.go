package feed

import (
	"slices"

	"bantahserver/models"
)

// tier is one boolean split in the ordering; views for which it holds come first.
type tier func(v View, userID string) bool

// Evaluated top-down; the first tier where two views differ decides.
var tiers = []tier{
	func(v View, _ string) bool { return v.IsPinned },
	NeedsAction,
	func(v View, _ string) bool { return v.Status == models.StatusActive },
	IsFeatured,
	func(v View, _ string) bool { return v.Status == models.StatusPendingAdmin },
}

// NeedsAction reports whether a pending P2P challenge waits on userID.
func NeedsAction(v View, userID string) bool {
	return v.Status == models.StatusPending && !v.AdminCreated && v.IsParticipant(userID)
}

// IsFeatured reports whether v is an open admin pool.
func IsFeatured(v View, _ string) bool {
	return v.AdminCreated && v.Status == models.StatusOpen
}

// Compare orders a before b (negative), after b (positive) or as equal (zero)
// for userID. It is a total preorder: after all tiers, newer CreatedAt wins.
func Compare(a, b View, userID string) int {
	for _, t := range tiers {
		ta, tb := t(a, userID), t(b, userID)
		if ta != tb {
			if ta {
				return -1
			}
			return 1
		}
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// Rank returns a new slice ordered by Compare. Views that compare equal keep
// their input order, so ranking a ranked list is a no-op.
func Rank(list []View, userID string) []View {
	out := slices.Clone(list)
	if out == nil {
		out = []View{}
	}
	slices.SortStableFunc(out, func(a, b View) int {
		return Compare(a, b, userID)
	})
	return out
}
