// Package allocation distributes participants across clans.
//
// The selection pass sizes each clan proportionally to its role slots and
// corrects rounding drift so exactly the requested number of roles is
// selected. The AI pass prefers packing whole clans so simulated
// participants keep a coherent faction identity.
package allocation

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rlarsen/althing/internal/errors"
)

// Slot is the allocation outcome for one role slot
type Slot struct {
	Selected bool
	AI       bool
}

// Distribute selects exactly total role slots across clans proportionally
// to each clan's slot count, then marks min(aiCount, total) of them as AI.
// clans holds the slot count of each clan in sequence order; the result
// mirrors that shape, slots in sequence order within each clan.
func Distribute(total, aiCount int, clans []int) ([][]Slot, error) {
	if total < 0 {
		return nil, errors.Validation("participant count must not be negative")
	}
	if aiCount < 0 {
		return nil, errors.Validation("AI participant count must not be negative")
	}
	if len(clans) == 0 {
		return nil, errors.Validation("no clans to allocate into")
	}

	capacity := 0
	for i, slots := range clans {
		if slots < 0 {
			return nil, errors.Validationf("clan %d has a negative slot count", i)
		}
		capacity += slots
	}
	if total > capacity {
		return nil, errors.Capacityf("requested %d participants but only %d role slots exist", total, capacity)
	}
	if aiCount > total {
		aiCount = total
	}

	selected := proportionalShares(total, clans)
	correctShares(selected, total, clans)
	packAI(selected, aiCount, clans)

	result := make([][]Slot, len(clans))
	for i, slots := range clans {
		result[i] = make([]Slot, slots)
		for j := 0; j < selected[i].count; j++ {
			result[i][j].Selected = true
			result[i][j].AI = selected[i].ai
		}
	}

	// Spill pass: mark individual roles AI when no whole clan fit the
	// remaining quota
	remaining := aiCount - countAI(selected)
	for i := range result {
		if selected[i].ai {
			continue
		}
		for j := range result[i] {
			if remaining == 0 {
				break
			}
			if result[i][j].Selected && !result[i][j].AI {
				result[i][j].AI = true
				remaining--
			}
		}
	}

	return result, nil
}

type clanShare struct {
	count int
	ai    bool
}

// proportionalShares computes rounded shares clamped to each clan's capacity
func proportionalShares(total int, clans []int) []clanShare {
	capacity := 0
	for _, slots := range clans {
		capacity += slots
	}

	shares := make([]clanShare, len(clans))
	for i, slots := range clans {
		raw := int(math.Round(float64(total) * float64(slots) / float64(capacity)))
		if raw > slots {
			raw = slots
		}
		shares[i].count = raw
	}
	return shares
}

// correctShares adjusts rounded shares one at a time until they sum to
// total, touching the clan with the largest slot count first
func correctShares(shares []clanShare, total int, clans []int) {
	// Indices ordered largest clan first; ties keep sequence order
	order := make([]int, len(clans))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return clans[order[a]] > clans[order[b]]
	})

	for {
		sum := 0
		for _, s := range shares {
			sum += s.count
		}
		if sum == total {
			return
		}
		if sum < total {
			adjusted := false
			for _, i := range order {
				if shares[i].count < clans[i] {
					shares[i].count++
					adjusted = true
					break
				}
			}
			if !adjusted {
				return // capacity check makes this unreachable
			}
		} else {
			adjusted := false
			for _, i := range order {
				if shares[i].count > 0 {
					shares[i].count--
					adjusted = true
					break
				}
			}
			if !adjusted {
				return
			}
		}
	}
}

// packAI marks whole clans as AI, smallest selected count first, whenever
// the entire clan still fits the unassigned quota
func packAI(shares []clanShare, aiCount int, clans []int) {
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return shares[order[a]].count < shares[order[b]].count
	})

	remaining := aiCount
	for _, i := range order {
		if shares[i].count == 0 {
			continue
		}
		if shares[i].count <= remaining {
			shares[i].ai = true
			remaining -= shares[i].count
		}
	}
}

func countAI(shares []clanShare) int {
	n := 0
	for _, s := range shares {
		if s.ai {
			n += s.count
		}
	}
	return n
}

// AssignUsers produces a uniformly random bijection between unassigned
// human role slots and user identities. Counts must match exactly.
// The result maps role ID to user ID and is not reproducible.
func AssignUsers(roleIDs []int64, userIDs []string) (map[int64]string, error) {
	if len(roleIDs) != len(userIDs) {
		return nil, errors.Validationf("role count %d does not match user count %d", len(roleIDs), len(userIDs))
	}

	shuffled := make([]string, len(userIDs))
	copy(shuffled, userIDs)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	assignment := make(map[int64]string, len(roleIDs))
	for i, roleID := range roleIDs {
		assignment[roleID] = shuffled[i]
	}
	return assignment, nil
}
