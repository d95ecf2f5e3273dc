package domain

// ScoreBreakdown is the outcome of evaluating a rule set against a fact bag.
type ScoreBreakdown struct {
	Total          int64   `json:"total"`
	Matched        []Match `json:"matched"`
	RuleSetVersion int64   `json:"ruleSetVersion"`
	Verdict        Verdict `json:"verdict"`
}

// Match is one rule whose condition held, in declaration order.
type Match struct {
	RuleID      string `json:"ruleId"`
	Score       int64  `json:"score"`
	Description string `json:"description,omitempty"`
}

// MatchedIDs returns the matched rule ids in order.
func (s *ScoreBreakdown) MatchedIDs() []string {
	ids := make([]string, len(s.Matched))
	for i, m := range s.Matched {
		ids[i] = m.RuleID
	}
	return ids
}

// Verdict is the risk classification of a total score.
type Verdict string

const (
	VerdictApproved   Verdict = "approved"
	VerdictSuspicious Verdict = "suspicious"
	VerdictRejected   Verdict = "rejected"
)
