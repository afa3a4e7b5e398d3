package queue

import (
	"sort"
	"time"

	"github.com/zulandar/courier/internal/models"
)

// DeliveryUnit is the atomic scheduling grouping: one standalone message or
// one multi-part sequence. A unit is dispatched whole or rescheduled whole.
type DeliveryUnit struct {
	Rows       []models.QueuedMessage // position order for sequences
	SequenceID string                 // empty for standalone units
	Incomplete bool                   // sequence is missing positions or has inconsistent totals
	Missing    []int                  // absent 1-indexed positions, when Incomplete
}

// Key identifies the unit for budget records and logs: the sequence ID, or
// the single row's ID.
func (u *DeliveryUnit) Key() string {
	if u.SequenceID != "" {
		return u.SequenceID
	}
	return u.Rows[0].ID
}

// UserID returns the owning user.
func (u *DeliveryUnit) UserID() string { return u.Rows[0].UserID }

// Priority returns the unit's overall priority: that of its lowest-position
// row.
func (u *DeliveryUnit) Priority() string { return u.Rows[0].Priority }

// ScheduledFor returns the earliest scheduled time across the unit's rows.
func (u *DeliveryUnit) ScheduledFor() time.Time {
	min := u.Rows[0].ScheduledFor
	for _, r := range u.Rows[1:] {
		if r.ScheduledFor.Before(min) {
			min = r.ScheduledFor
		}
	}
	return min
}

// CreatedAt returns the earliest insertion time across the unit's rows, the
// stable ordering tiebreaker.
func (u *DeliveryUnit) CreatedAt() time.Time {
	min := u.Rows[0].CreatedAt
	for _, r := range u.Rows[1:] {
		if r.CreatedAt.Before(min) {
			min = r.CreatedAt
		}
	}
	return min
}

// IDs returns the row IDs of the unit.
func (u *DeliveryUnit) IDs() []string {
	ids := make([]string, len(u.Rows))
	for i, r := range u.Rows {
		ids[i] = r.ID
	}
	return ids
}

// GroupDueMessages partitions due rows into delivery units. Rows without a
// sequence ID each become a singleton unit; rows sharing one become a single
// unit sorted by position, regardless of storage insertion order. Sequences
// that do not cover positions 1..total exactly once are flagged Incomplete;
// the caller decides whether to deliver the parts present or hold the unit.
func GroupDueMessages(rows []models.QueuedMessage) []DeliveryUnit {
	var units []DeliveryUnit
	bySeq := make(map[string][]models.QueuedMessage)
	var seqOrder []string

	for _, r := range rows {
		if r.SequenceID == nil || *r.SequenceID == "" {
			units = append(units, DeliveryUnit{Rows: []models.QueuedMessage{r}})
			continue
		}
		id := *r.SequenceID
		if _, seen := bySeq[id]; !seen {
			seqOrder = append(seqOrder, id)
		}
		bySeq[id] = append(bySeq[id], r)
	}

	for _, id := range seqOrder {
		group := bySeq[id]
		sort.SliceStable(group, func(i, j int) bool {
			return position(group[i]) < position(group[j])
		})

		unit := DeliveryUnit{Rows: group, SequenceID: id}
		unit.Incomplete, unit.Missing = validateSequence(group)
		units = append(units, unit)
	}

	return units
}

// SortUnits orders units by priority (urgent first), then scheduled time,
// then creation time. The triple is a total order: creation times differ
// because row IDs are unique and inserts are serialized by the store.
func SortUnits(units []DeliveryUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		pi, pj := priorityRank(units[i].Priority()), priorityRank(units[j].Priority())
		if pi != pj {
			return pi < pj
		}
		si, sj := units[i].ScheduledFor(), units[j].ScheduledFor()
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return units[i].CreatedAt().Before(units[j].CreatedAt())
	})
}

// validateSequence checks that the group's rows agree on a total and cover
// positions 1..total exactly once.
func validateSequence(group []models.QueuedMessage) (incomplete bool, missing []int) {
	total := 0
	for _, r := range group {
		if r.SequenceTotal == nil || r.SequencePosition == nil {
			return true, nil
		}
		if total == 0 {
			total = *r.SequenceTotal
		} else if *r.SequenceTotal != total {
			return true, nil
		}
	}
	if total < 1 {
		return true, nil
	}

	seen := make(map[int]int, len(group))
	for _, r := range group {
		seen[*r.SequencePosition]++
	}
	for pos := 1; pos <= total; pos++ {
		switch seen[pos] {
		case 1:
		case 0:
			missing = append(missing, pos)
		default:
			return true, nil // duplicate position
		}
	}
	return len(missing) > 0, missing
}

// priorityRank maps a priority name to its sort rank, highest first.
// Unknown values sort last.
func priorityRank(p string) int {
	switch p {
	case models.PriorityUrgent:
		return 0
	case models.PriorityHigh:
		return 1
	case models.PriorityMedium:
		return 2
	case models.PriorityLow:
		return 3
	}
	return 4
}

func position(r models.QueuedMessage) int {
	if r.SequencePosition == nil {
		return 0
	}
	return *r.SequencePosition
}
