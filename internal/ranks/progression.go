package ranks

import (
	"time"

	"github.com/mbd888/dojo/internal/clock"
)

// CurrentRank returns the promotion with the latest date, the later
// insertion winning a tie, or nil for an empty history.
func CurrentRank(history []*RankHistory) *RankHistory {
	var cur *RankHistory
	for _, h := range history {
		if cur == nil || h.PromotedOn.After(cur.PromotedOn) ||
			(h.PromotedOn.Equal(cur.PromotedOn) && h.Seq > cur.Seq) {
			cur = h
		}
	}
	return cur
}

// EligibilityDate is the first day a student promoted on promotedOn may
// test for the next rank.
func EligibilityDate(promotedOn time.Time, minMonths int) time.Time {
	return clock.AddMonths(clock.DateOf(promotedOn), minMonths)
}

// IsEligible reports whether the student holding entry at rank has served
// rank's minimum time by today.
func IsEligible(entry *RankHistory, rank *Rank, today time.Time) bool {
	if entry == nil || rank == nil {
		return false
	}
	return !clock.DateOf(today).Before(EligibilityDate(entry.PromotedOn, rank.MinMonths))
}

// DaysEligible approximates the time since a student became eligible as
// days + months*30 + years*365 of the calendar difference.
func DaysEligible(since, today time.Time) int {
	d := clock.Between(since, today)
	return d.Days + d.Months*30 + d.Years*365
}
