package core

// Signals are the lightweight conversational cues used by the Lead Scorer.
// They are independent of each other.
type Signals struct {
	DecisionMaker      bool `json:"decisionMaker"`
	InternationalFocus bool `json:"internationalFocus"`
	EditorialReady     bool `json:"editorialReady"`
	MassMarket         bool `json:"massMarket"`
}

// DetectSignals matches text against each signal's phrase list,
// case-insensitively.
func DetectSignals(text string, vocab SignalVocabulary) Signals {
	return Signals{
		DecisionMaker:      containsAny(text, vocab.DecisionMaker),
		InternationalFocus: containsAny(text, vocab.InternationalFocus),
		EditorialReady:     containsAny(text, vocab.EditorialReady),
		MassMarket:         containsAny(text, vocab.MassMarket),
	}
}

// Any reports whether at least one signal fired.
func (s Signals) Any() bool {
	return s.DecisionMaker || s.InternationalFocus || s.EditorialReady || s.MassMarket
}
