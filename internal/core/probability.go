package core

import (
	"strings"
	"time"

	"luxeconcierge.com/lead-intake/internal/store"
)

// Probability bounds in whole percent. No deal is certain or impossible.
const (
	MinDealProbability = 5
	MaxDealProbability = 95
)

const (
	staleAfter     = 7 * 24 * time.Hour
	veryStaleAfter = 14 * 24 * time.Hour
)

// Adjustments in percentage points.
var priorityAdjustment = map[string]int{
	string(PriorityHot):  15,
	string(PriorityWarm): 5,
	string(PriorityCold): -15,
}

const (
	overriddenAdjustment = 10
	invitedAdjustment    = 20
	handoffAdjustment    = 10
	invitedAtAdjustment  = 10
	immediateAdjustment  = 15
	assignedAdjustment   = 10
	staleAdjustment      = -25
	veryStaleAdjustment  = -15
)

// CalculateDealProbability derives the bounded conversion likelihood of lead
// as of now. It only reads its inputs.
//
// The two staleness penalties stack: a lead idle for more than 14 days loses
// both.
func CalculateDealProbability(lead store.Lead, now time.Time) int {
	p := 0
	if lead.Score != nil {
		p = *lead.Score
	}

	if lead.Priority != nil {
		p += priorityAdjustment[strings.ToUpper(*lead.Priority)]
	}
	if lead.PriorityOverridden {
		p += overriddenAdjustment
	}

	switch strings.ToLower(strings.TrimSpace(lead.Stage)) {
	case "closed":
		return clampProbability(100)
	case "invited":
		p += invitedAdjustment
	case "handoff":
		p += handoffAdjustment
	}

	if lead.InvitedAt != nil {
		p += invitedAtAdjustment
	}
	if lead.IntentTiming != nil && strings.EqualFold(*lead.IntentTiming, IntentImmediate) {
		p += immediateAdjustment
	}
	if lead.AssignedTo != nil && *lead.AssignedTo != "" {
		p += assignedAdjustment
	}

	if !lead.UpdatedAt.IsZero() {
		idle := now.Sub(lead.UpdatedAt)
		if idle > staleAfter {
			p += staleAdjustment
		}
		if idle > veryStaleAfter {
			p += veryStaleAdjustment
		}
	}

	return clampProbability(p)
}

func clampProbability(p int) int {
	if p < MinDealProbability {
		return MinDealProbability
	}
	if p > MaxDealProbability {
		return MaxDealProbability
	}
	return p
}
