package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaayud/shaayud/internal/bus"
	"github.com/shaayud/shaayud/internal/cache"
	"github.com/shaayud/shaayud/internal/domain"
	"github.com/shaayud/shaayud/internal/graph"
	"github.com/shaayud/shaayud/internal/rules"
	"github.com/shaayud/shaayud/internal/verdict"
	"github.com/shaayud/shaayud/internal/velocity"
)

const endToEndRecord = `{
	"shaayud_id": "u1",
	"fingerprint": {"visitorId": "dev1", "components": {"userAgent": {"value": "Mobile Safari"}}},
	"ip": "1.2.3.4",
	"method": "POST",
	"path": "/x",
	"timestamp": "2024-03-01T12:00:00Z"
}`

func decode(t *testing.T, raw string) *domain.IngestInput {
	t.Helper()
	in, err := domain.DecodeInput([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeInput failed: %v", err)
	}
	return in
}

func newRuleSet(t *testing.T, defaultScore int64, rs ...*rules.Rule) *rules.RuleSet {
	t.Helper()
	set, err := rules.New(1, defaultScore, rs)
	if err != nil {
		t.Fatalf("rules.New failed: %v", err)
	}
	return set
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []*domain.JournalEntry
	err     error
}

func (j *recordingJournal) Append(ctx context.Context, e *domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *recordingJournal) ListByEvent(ctx context.Context, eventID string) ([]*domain.JournalEntry, error) {
	return nil, nil
}

func (j *recordingJournal) ListByIdentity(ctx context.Context, identityID string, since time.Time, limit int) ([]*domain.JournalEntry, error) {
	return nil, nil
}

func (j *recordingJournal) Ping(ctx context.Context) error { return nil }
func (j *recordingJournal) Close() error                   { return nil }

// writerFunc adapts a function to GraphWriter.
type writerFunc func(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown) error

func (f writerFunc) Upsert(ctx context.Context, facts *domain.Facts, score *domain.ScoreBreakdown) error {
	return f(ctx, facts, score)
}

func TestEndToEnd(t *testing.T) {
	store := graph.NewMemoryStore()
	svc := NewService(newRuleSet(t, 10), graph.NewUpserter(store), verdict.NewClassifier(50, 80), Config{})

	res, err := svc.Process(context.Background(), decode(t, endToEndRecord))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	device, ok := store.Node("Device", "dev1")
	if !ok {
		t.Fatal("expected Device dev1")
	}
	if device["device_type"] != domain.DeviceMobile {
		t.Errorf("expected mobile device, got %v", device["device_type"])
	}

	sessionID := "sess:dev1:1709294400"
	eventID := "evt:u1:" + sessionID + ":1709294400"
	if res.Facts.Session.ID != sessionID || res.Facts.Event.ID != eventID {
		t.Errorf("unexpected ids: session %q event %q", res.Facts.Session.ID, res.Facts.Event.ID)
	}

	event, ok := store.Node("Event", eventID)
	if !ok {
		t.Fatalf("expected Event %s", eventID)
	}
	if event["type"] != "POST /x" {
		t.Errorf("expected event type 'POST /x', got %v", event["type"])
	}

	if !store.HasEdge("Session", sessionID, "FROM_IP", "IP", "1.2.3.4") {
		t.Error("expected Session-FROM_IP->IP edge")
	}
	if store.Count("Geo") != 0 {
		t.Error("expected no Geo node")
	}

	scores := store.Scores(eventID)
	if len(scores) != 1 {
		t.Fatalf("expected one Score node, got %d", len(scores))
	}
	if scores[0]["total"] != int64(10) {
		t.Errorf("expected total = default score 10, got %v", scores[0]["total"])
	}
	if res.Score.Verdict != domain.VerdictApproved {
		t.Errorf("expected approved, got %s", res.Score.Verdict)
	}
	if store.Commits() != 1 {
		t.Errorf("expected exactly one commit, got %d", store.Commits())
	}
}

func TestScoringAndSideEffects(t *testing.T) {
	store := graph.NewMemoryStore()
	journal := &recordingJournal{}
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	scored := make(chan domain.ScoredEvent, 1)
	_, err := eventBus.Subscribe(context.Background(), domain.TopicEventScored, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.ScoredEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		scored <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	rs := newRuleSet(t, 10,
		&rules.Rule{ID: "mobile", When: rules.Eq("device.device_type", "mobile"), Score: 30},
		&rules.Rule{ID: "login", When: rules.Regex("event.type", "^GET "), Score: 100},
		&rules.Rule{ID: "has_ip", When: rules.Any(rules.Eq("network.ip", "1.2.3.4")), Score: 15},
	)
	svc := NewService(rs, graph.NewUpserter(store), verdict.NewClassifier(50, 80), Config{},
		WithJournal(journal),
		WithEventBus(eventBus),
	)

	res, err := svc.Process(context.Background(), decode(t, endToEndRecord))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Score.Total != 55 {
		t.Errorf("expected total 55, got %d", res.Score.Total)
	}
	if got := res.Score.MatchedIDs(); len(got) != 2 || got[0] != "mobile" || got[1] != "has_ip" {
		t.Errorf("unexpected matched rules %v", got)
	}
	if res.Score.Verdict != domain.VerdictSuspicious {
		t.Errorf("expected suspicious, got %s", res.Score.Verdict)
	}

	if len(journal.entries) != 1 {
		t.Fatalf("expected one journal entry, got %d", len(journal.entries))
	}
	entry := journal.entries[0]
	if entry.EventID != res.Facts.Event.ID || entry.IP != "1.2.3.4" || entry.Total != 55 {
		t.Errorf("unexpected journal entry %+v", entry)
	}
	if len(entry.Payload) == 0 {
		t.Error("expected raw payload in journal entry")
	}

	select {
	case ev := <-scored:
		if ev.EventID != res.Facts.Event.ID || ev.Verdict != domain.VerdictSuspicious || len(ev.MatchedRules) != 2 {
			t.Errorf("unexpected scored event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for scored event")
	}
}

func TestSideEffectFailuresDoNotFailIngest(t *testing.T) {
	store := graph.NewMemoryStore()
	eventBus := bus.NewChannelBus(10)
	eventBus.Close()

	svc := NewService(newRuleSet(t, 0), graph.NewUpserter(store), verdict.NewClassifier(50, 80), Config{},
		WithJournal(&recordingJournal{err: errors.New("disk full")}),
		WithEventBus(eventBus),
	)

	if err := svc.Ingest(context.Background(), decode(t, endToEndRecord)); err != nil {
		t.Fatalf("expected success despite side effect failures, got %v", err)
	}
	if store.Commits() != 1 {
		t.Errorf("expected one commit, got %d", store.Commits())
	}
}

func TestVelocityEnrichment(t *testing.T) {
	rs := newRuleSet(t, 0,
		&rules.Rule{ID: "burst", When: rules.Gt("velocity.device", 1), Score: 40},
	)
	svc := NewService(rs, graph.NewUpserter(graph.NewMemoryStore()), verdict.NewClassifier(50, 80), Config{},
		WithVelocity(velocity.NewService(cache.NewLRUCounter(100), time.Minute)),
	)

	ctx := context.Background()
	first, err := svc.Process(ctx, decode(t, endToEndRecord))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if first.Score.Total != 0 {
		t.Errorf("expected first ingest to score 0, got %d", first.Score.Total)
	}

	second, err := svc.Process(ctx, decode(t, endToEndRecord))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if second.Score.Total != 40 {
		t.Errorf("expected burst rule on second ingest, got %d", second.Score.Total)
	}
}

func TestMalformedInput(t *testing.T) {
	store := graph.NewMemoryStore()
	svc := NewService(newRuleSet(t, 0), graph.NewUpserter(store), verdict.NewClassifier(50, 80), Config{})

	tests := []struct {
		name string
		in   *domain.IngestInput
	}{
		{"Nil", nil},
		{"MissingSubject", &domain.IngestInput{Method: "GET", Path: "/", Timestamp: time.Now()}},
		{"MissingTimestamp", &domain.IngestInput{SubjectID: "u1", Method: "GET", Path: "/"}},
		{"MissingMethodAndType", &domain.IngestInput{SubjectID: "u1", Path: "/", Timestamp: time.Now()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Ingest(context.Background(), tt.in)
			if !errors.Is(err, domain.ErrMalformedInput) {
				t.Errorf("expected ErrMalformedInput, got %v", err)
			}
		})
	}

	if store.Commits() != 0 {
		t.Errorf("expected no commits, got %d", store.Commits())
	}
}

func TestGraphFailureMapping(t *testing.T) {
	for _, phase := range []domain.TxPhase{domain.PhaseStart, domain.PhaseExecute, domain.PhaseCommit} {
		t.Run(string(phase), func(t *testing.T) {
			cause := &domain.GraphTxError{Phase: phase, Err: errors.New("unavailable")}
			svc := NewService(newRuleSet(t, 0), writerFunc(func(context.Context, *domain.Facts, *domain.ScoreBreakdown) error {
				return cause
			}), verdict.NewClassifier(50, 80), Config{})

			err := svc.Ingest(context.Background(), decode(t, endToEndRecord))
			if !errors.Is(err, domain.ErrIngestFailed) {
				t.Fatalf("expected ErrIngestFailed, got %v", err)
			}
			var txErr *domain.GraphTxError
			if !errors.As(err, &txErr) || txErr.Phase != phase {
				t.Errorf("expected wrapped %s failure, got %v", phase, err)
			}
		})
	}
}

func TestAdmission(t *testing.T) {
	t.Run("ConcurrencyCap", func(t *testing.T) {
		var current, peak atomic.Int64
		writer := writerFunc(func(context.Context, *domain.Facts, *domain.ScoreBreakdown) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		})
		svc := NewService(newRuleSet(t, 0), writer, verdict.NewClassifier(50, 80), Config{MaxInFlightTx: 3})

		inputs := make([]*domain.IngestInput, 20)
		for i := range inputs {
			inputs[i] = decode(t, endToEndRecord)
			id := fmt.Sprintf("evt-%d", i)
			inputs[i].EventID = &id
		}

		var wg sync.WaitGroup
		errs := make(chan error, len(inputs))
		for _, in := range inputs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- svc.Ingest(context.Background(), in)
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Errorf("Ingest failed: %v", err)
			}
		}
		if peak.Load() > 3 {
			t.Errorf("expected at most 3 concurrent transactions, saw %d", peak.Load())
		}
	})

	t.Run("CanceledWhileQueued", func(t *testing.T) {
		release := make(chan struct{})
		admitted := make(chan struct{})
		var calls atomic.Int32
		writer := writerFunc(func(context.Context, *domain.Facts, *domain.ScoreBreakdown) error {
			calls.Add(1)
			close(admitted)
			<-release
			return nil
		})
		svc := NewService(newRuleSet(t, 0), writer, verdict.NewClassifier(50, 80), Config{MaxInFlightTx: 1})

		first := decode(t, endToEndRecord)
		done := make(chan error, 1)
		go func() { done <- svc.Ingest(context.Background(), first) }()
		<-admitted

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := svc.Ingest(ctx, decode(t, endToEndRecord))
		if !errors.Is(err, domain.ErrAdmissionCanceled) {
			t.Errorf("expected ErrAdmissionCanceled, got %v", err)
		}

		close(release)
		if err := <-done; err != nil {
			t.Errorf("admitted ingest failed: %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected the queued ingest never to reach the graph, got %d calls", calls.Load())
		}
	})

	t.Run("AlreadyCanceled", func(t *testing.T) {
		svc := NewService(newRuleSet(t, 0), graph.NewUpserter(graph.NewMemoryStore()), verdict.NewClassifier(50, 80), Config{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := svc.Ingest(ctx, decode(t, endToEndRecord)); !errors.Is(err, domain.ErrAdmissionCanceled) {
			t.Errorf("expected ErrAdmissionCanceled, got %v", err)
		}
	})

	t.Run("AdmittedSurvivesCallerCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		var txErr atomic.Value
		writer := writerFunc(func(txCtx context.Context, _ *domain.Facts, _ *domain.ScoreBreakdown) error {
			cancel()
			time.Sleep(10 * time.Millisecond)
			if err := txCtx.Err(); err != nil {
				txErr.Store(err)
			}
			if _, ok := txCtx.Deadline(); !ok {
				txErr.Store(errors.New("transaction context has no deadline"))
			}
			return nil
		})
		svc := NewService(newRuleSet(t, 0), writer, verdict.NewClassifier(50, 80), Config{TxTimeout: time.Second})

		if err := svc.Ingest(ctx, decode(t, endToEndRecord)); err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
		if v := txErr.Load(); v != nil {
			t.Errorf("transaction context affected by caller: %v", v)
		}
	})
}
