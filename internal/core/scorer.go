package core

import (
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityHot  Priority = "HOT"
	PriorityWarm Priority = "WARM"
	PriorityCold Priority = "COLD"
)

// ParsePriority accepts any casing of HOT, WARM or COLD.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case PriorityHot, PriorityWarm, PriorityCold:
		return p, nil
	default:
		return "", validationError("priority must be HOT, WARM or COLD, got %q", s)
	}
}

// Intent timing values understood by the scorer and the probability
// calculator.
const (
	IntentImmediate = "immediate"
	IntentPlanning  = "planning"
	IntentExploring = "exploring"
)

// LeadFields are the typed lead attributes taken from a side-channel block,
// an intake request or a stored lead.
type LeadFields struct {
	ContactName       string `json:"contact_name,omitempty"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	BusinessName      string `json:"business_name,omitempty"`
	Category          string `json:"category,omitempty"`
	Location          string `json:"location,omitempty"`
	Website           string `json:"website,omitempty"`
	IntentTiming      string `json:"intent_timing,omitempty"`
	Notes             string `json:"notes,omitempty"`
	LuxuryPositioning bool   `json:"luxury_positioning,omitempty"`
}

// Merge fills the empty fields of f from other. Set fields win.
func (f LeadFields) Merge(other LeadFields) LeadFields {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return LeadFields{
		ContactName:       pick(f.ContactName, other.ContactName),
		Email:             pick(f.Email, other.Email),
		Phone:             pick(f.Phone, other.Phone),
		BusinessName:      pick(f.BusinessName, other.BusinessName),
		Category:          pick(f.Category, other.Category),
		Location:          pick(f.Location, other.Location),
		Website:           pick(f.Website, other.Website),
		IntentTiming:      pick(f.IntentTiming, other.IntentTiming),
		Notes:             pick(f.Notes, other.Notes),
		LuxuryPositioning: f.LuxuryPositioning || other.LuxuryPositioning,
	}
}

// metadataKeys lists the accepted side-channel keys per field. The first
// non-empty string wins.
var metadataKeys = map[string][]string{
	"contact_name":  {"contact_name", "contactName", "name"},
	"email":         {"email"},
	"phone":         {"phone"},
	"business_name": {"business_name", "businessName", "company"},
	"category":      {"category"},
	"location":      {"location", "destination"},
	"website":       {"website", "url"},
	"intent_timing": {"intent_timing", "intentTiming", "timing"},
	"notes":         {"notes", "summary"},
}

// LeadFieldsFromMetadata converts a decoded side-channel object into
// LeadFields. Values of unexpected types are ignored.
func LeadFieldsFromMetadata(metadata map[string]any) LeadFields {
	if metadata == nil {
		return LeadFields{}
	}
	get := func(field string) string {
		for _, key := range metadataKeys[field] {
			if s, ok := metadata[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return ""
	}

	fields := LeadFields{
		ContactName:  get("contact_name"),
		Email:        get("email"),
		Phone:        get("phone"),
		BusinessName: get("business_name"),
		Category:     get("category"),
		Location:     get("location"),
		Website:      get("website"),
		IntentTiming: strings.ToLower(get("intent_timing")),
		Notes:        get("notes"),
	}
	for _, key := range []string{"luxury_positioning", "luxuryPositioning", "luxury"} {
		if v, ok := metadata[key]; ok {
			fields.LuxuryPositioning = truthy(v)
			break
		}
	}
	return fields
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true
		}
	case float64:
		return t != 0
	}
	return false
}

type LeadScore struct {
	Score int      `json:"score"`
	Tier  Priority `json:"priority"`
}

func (s LeadScore) String() string {
	return fmt.Sprintf("%d (%s)", s.Score, s.Tier)
}

// Qualifies reports whether the tier is high enough to create a lead on its
// own.
func (s LeadScore) Qualifies() bool {
	return s.Tier == PriorityHot || s.Tier == PriorityWarm
}

// ScoreLead sums the independent point rules for fields and signals. The
// result is never negative and has no upper bound.
func ScoreLead(fields LeadFields, signals Signals, rules ScoringRules) LeadScore {
	w := rules.Weights
	score := 0

	if fields.LuxuryPositioning {
		score += w.LuxuryPositioning
	}
	if containsAny(fields.Location, rules.PremiumDestinations) {
		score += w.PremiumDestination
	}
	if containsAny(fields.BusinessName, rules.PremiumBrands) || containsAny(fields.Website, rules.PremiumBrands) {
		score += w.PremiumBrand
	}
	if containsAny(fields.Category, rules.DesiredCategories) {
		score += w.DesiredCategory
	}
	switch strings.ToLower(strings.TrimSpace(fields.IntentTiming)) {
	case IntentImmediate:
		score += w.IntentImmediate
	case IntentPlanning:
		score += w.IntentPlanning
	}
	if strings.TrimSpace(fields.Website) != "" {
		score += w.WebsitePresent
	}
	if signals.DecisionMaker {
		score += w.DecisionMaker
	}
	if signals.InternationalFocus {
		score += w.InternationalFocus
	}
	if signals.EditorialReady {
		score += w.EditorialReady
	}
	if signals.MassMarket {
		score += w.MassMarket
	}

	if score < 0 {
		score = 0
	}
	return LeadScore{Score: score, Tier: Tier(score, rules.Thresholds)}
}

func Tier(score int, t TierThresholds) Priority {
	switch {
	case score >= t.Hot:
		return PriorityHot
	case score >= t.Warm:
		return PriorityWarm
	default:
		return PriorityCold
	}
}
