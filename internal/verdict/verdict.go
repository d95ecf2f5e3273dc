// Package verdict turns a score total into a decision.
package verdict

import "github.com/shaayud/shaayud/internal/domain"

// Classifier maps totals onto verdicts using two inclusive thresholds.
type Classifier struct {
	// Totals at or above Review are suspicious
	Review int64

	// Totals at or above Reject are rejected
	Reject int64
}

// NewClassifier creates a classifier. Reject is raised to Review when set below it.
func NewClassifier(review, reject int64) *Classifier {
	if reject < review {
		reject = review
	}
	return &Classifier{
		Review: review,
		Reject: reject,
	}
}

// Classify returns the verdict for total.
func (c *Classifier) Classify(total int64) domain.Verdict {
	switch {
	case total >= c.Reject:
		return domain.VerdictRejected
	case total >= c.Review:
		return domain.VerdictSuspicious
	default:
		return domain.VerdictApproved
	}
}

// Apply sets the verdict on score.
func (c *Classifier) Apply(score *domain.ScoreBreakdown) {
	score.Verdict = c.Classify(score.Total)
}
