package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

type ScoreWeights struct {
	LuxuryPositioning  int `yaml:"luxury_positioning"`
	PremiumDestination int `yaml:"premium_destination"`
	PremiumBrand       int `yaml:"premium_brand"`
	DesiredCategory    int `yaml:"desired_category"`
	IntentImmediate    int `yaml:"intent_immediate"`
	IntentPlanning     int `yaml:"intent_planning"`
	WebsitePresent     int `yaml:"website_present"`
	DecisionMaker      int `yaml:"decision_maker"`
	InternationalFocus int `yaml:"international_focus"`
	EditorialReady     int `yaml:"editorial_ready"`
	MassMarket         int `yaml:"mass_market"`
}

type TierThresholds struct {
	Hot  int `yaml:"hot"`
	Warm int `yaml:"warm"`
}

// SignalVocabulary holds the phrase list of each conversational signal.
type SignalVocabulary struct {
	DecisionMaker      []string `yaml:"decision_maker"`
	InternationalFocus []string `yaml:"international_focus"`
	EditorialReady     []string `yaml:"editorial_ready"`
	MassMarket         []string `yaml:"mass_market"`
}

// ScoringRules is the tunable data behind the Signal Detector and the Lead
// Scorer.
type ScoringRules struct {
	Weights             ScoreWeights     `yaml:"weights"`
	Thresholds          TierThresholds   `yaml:"thresholds"`
	PremiumDestinations []string         `yaml:"premium_destinations"`
	PremiumBrands       []string         `yaml:"premium_brands"`
	DesiredCategories   []string         `yaml:"desired_categories"`
	Signals             SignalVocabulary `yaml:"signals"`
}

// DefaultScoringRules returns the rules embedded in the binary.
func DefaultScoringRules() ScoringRules {
	rules, err := ParseScoringRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded scoring rules are invalid: %v", err))
	}
	return rules
}

// LoadScoringRules reads rules from path, or returns the embedded defaults
// when path is empty.
func LoadScoringRules(path string) (ScoringRules, error) {
	if path == "" {
		return DefaultScoringRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ScoringRules{}, fmt.Errorf("failed to read scoring rules %s: %w", path, err)
	}
	return ParseScoringRules(data)
}

func ParseScoringRules(data []byte) (ScoringRules, error) {
	var rules ScoringRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return ScoringRules{}, fmt.Errorf("failed to parse scoring rules: %w", err)
	}
	if rules.Thresholds.Hot <= rules.Thresholds.Warm {
		return ScoringRules{}, fmt.Errorf("hot threshold (%d) must be above warm threshold (%d)", rules.Thresholds.Hot, rules.Thresholds.Warm)
	}
	rules.normalize()
	return rules, nil
}

func (r *ScoringRules) normalize() {
	r.PremiumDestinations = lowerAll(r.PremiumDestinations)
	r.PremiumBrands = lowerAll(r.PremiumBrands)
	r.DesiredCategories = lowerAll(r.DesiredCategories)
	r.Signals.DecisionMaker = lowerAll(r.Signals.DecisionMaker)
	r.Signals.InternationalFocus = lowerAll(r.Signals.InternationalFocus)
	r.Signals.EditorialReady = lowerAll(r.Signals.EditorialReady)
	r.Signals.MassMarket = lowerAll(r.Signals.MassMarket)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// containsAny reports whether the lower-cased text contains any keyword.
// Keywords are expected to be lower case already.
func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
