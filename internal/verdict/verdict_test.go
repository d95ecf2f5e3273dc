package verdict

import (
	"testing"

	"github.com/shaayud/shaayud/internal/domain"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(50, 80)

	tests := []struct {
		total int64
		want  domain.Verdict
	}{
		{-10, domain.VerdictApproved},
		{0, domain.VerdictApproved},
		{49, domain.VerdictApproved},
		{50, domain.VerdictSuspicious},
		{79, domain.VerdictSuspicious},
		{80, domain.VerdictRejected},
		{500, domain.VerdictRejected},
	}

	for _, tt := range tests {
		if got := c.Classify(tt.total); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.total, got, tt.want)
		}
	}
}

func TestNewClassifierOrdersThresholds(t *testing.T) {
	c := NewClassifier(60, 40)
	if c.Reject != 60 {
		t.Fatalf("expected reject raised to 60, got %d", c.Reject)
	}
	if got := c.Classify(59); got != domain.VerdictApproved {
		t.Errorf("expected approved, got %s", got)
	}
	if got := c.Classify(60); got != domain.VerdictRejected {
		t.Errorf("expected rejected, got %s", got)
	}
}

func TestApply(t *testing.T) {
	score := domain.ScoreBreakdown{Total: 55}
	NewClassifier(50, 80).Apply(&score)
	if score.Verdict != domain.VerdictSuspicious {
		t.Errorf("expected suspicious, got %s", score.Verdict)
	}
}
