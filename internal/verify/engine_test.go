package verify_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"exam-session-service/internal/domain"
	"exam-session-service/internal/infra/memory"
	"exam-session-service/internal/verify"
)

func testCatalog() *memory.StaticCatalog {
	return memory.NewStaticCatalog(map[string]domain.QuestionSet{
		"exam-1": {
			ID: "exam-1",
			Questions: []domain.Question{
				{ID: "q1", Options: []domain.Option{
					{Text: "a", Correct: true},
					{Text: "b"},
					{Text: "c", Correct: true},
				}},
				{ID: "q2", Options: []domain.Option{
					{Text: "a"},
					{Text: "b", Correct: true},
				}},
				{ID: "void", Annulled: true, Options: []domain.Option{
					{Text: "a", Correct: true},
					{Text: "b"},
				}},
			},
		},
	})
}

func newTestEngine() (*verify.Engine, *memory.PointLedger) {
	ledger := memory.NewPointLedger()
	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return verify.NewEngineWithClock(testCatalog(), ledger, clock), ledger
}

func TestExactMatchScoring(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()

	cases := []struct {
		name     string
		selected []int
		correct  bool
	}{
		{"exact", []int{0, 2}, true},
		{"superset", []int{0, 1, 2}, false},
		{"subset", []int{2}, false},
		{"disjoint", []int{1}, false},
		{"duplicates collapse", []int{0, 0, 2}, true},
	}
	for _, tc := range cases {
		res, err := engine.Verify(ctx, "u1", "q1", tc.selected, false)
		if err != nil {
			t.Fatalf("%s: verify failed: %v", tc.name, err)
		}
		if res.Correct != tc.correct {
			t.Fatalf("%s: expected correct=%v, got %v", tc.name, tc.correct, res.Correct)
		}
		if !reflect.DeepEqual(res.CorrectIndices, []int{0, 2}) {
			t.Fatalf("%s: expected key [0 2], got %v", tc.name, res.CorrectIndices)
		}
	}
}

func TestAwardIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine()

	first, err := engine.Verify(ctx, "u1", "q1", []int{0, 2}, false)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if first.PointsAwarded != 1 || first.TotalPoints != 1 {
		t.Fatalf("expected first correct answer to award 1, got %+v", first)
	}

	second, err := engine.Verify(ctx, "u1", "q1", []int{0, 2}, false)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if second.PointsAwarded != 0 || second.TotalPoints != 1 {
		t.Fatalf("expected duplicate verify to award nothing, got %+v", second)
	}

	total, _ := ledger.TotalFor(ctx, "u1")
	if total != 1 {
		t.Fatalf("ledger total drifted: %d", total)
	}
}

func TestRetryDoesNotRearmScoring(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine()

	// Wrong answer first.
	res, err := engine.Verify(ctx, "u1", "q2", []int{0}, false)
	if err != nil || res.Correct {
		t.Fatalf("expected incorrect, got %+v err=%v", res, err)
	}

	// Retry clears visible state without scoring and discloses nothing.
	retry, err := engine.Verify(ctx, "u1", "q2", nil, true)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Correct || retry.PointsAwarded != 0 || retry.CorrectIndices != nil {
		t.Fatalf("retry must not score or disclose, got %+v", retry)
	}

	// Correct after retry awards the point once.
	res, err = engine.Verify(ctx, "u1", "q2", []int{1}, false)
	if err != nil || !res.Correct || res.PointsAwarded != 1 {
		t.Fatalf("expected award after retry, got %+v err=%v", res, err)
	}

	// Same correct verify again: no re-award.
	res, err = engine.Verify(ctx, "u1", "q2", []int{1}, false)
	if err != nil || res.PointsAwarded != 0 || res.TotalPoints != 1 {
		t.Fatalf("expected no re-award, got %+v err=%v", res, err)
	}

	// Ledger-sum invariant: total equals the sum of all event amounts,
	// retries included.
	sum := 0
	for _, e := range ledger.Events("u1") {
		sum += e.Amount
	}
	total, _ := ledger.TotalFor(ctx, "u1")
	if sum != total || total != 1 {
		t.Fatalf("ledger sum %d != total %d", sum, total)
	}
}

func TestRetryIsLoggedWithZeroAmount(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine()

	if _, err := engine.Verify(ctx, "u1", "q2", nil, true); err != nil {
		t.Fatalf("retry: %v", err)
	}
	events := ledger.Events("u1")
	if len(events) != 1 || events[0].Kind != domain.PointRetry || events[0].Amount != 0 {
		t.Fatalf("expected one zero-amount retry event, got %+v", events)
	}
}

func TestAnnulledQuestionFailsClosed(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine()

	_, err := engine.Verify(ctx, "u1", "void", []int{0}, false)
	if !errors.Is(err, domain.ErrNotVerifiable) {
		t.Fatalf("expected ErrNotVerifiable, got %v", err)
	}
	if events := ledger.Events("u1"); len(events) != 0 {
		t.Fatalf("annulled verify produced events: %+v", events)
	}
}

func TestUnknownQuestionRejected(t *testing.T) {
	engine, _ := newTestEngine()
	_, err := engine.Verify(context.Background(), "u1", "ghost", []int{0}, false)
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestConcurrentVerifyAwardsOnce(t *testing.T) {
	ctx := context.Background()
	engine, ledger := newTestEngine()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Verify(ctx, "u1", "q1", []int{0, 2}, false)
		}()
	}
	wg.Wait()

	total, _ := ledger.TotalFor(ctx, "u1")
	if total != 1 {
		t.Fatalf("concurrent verifies awarded %d points, want 1", total)
	}
}
