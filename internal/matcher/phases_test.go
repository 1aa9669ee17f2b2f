package matcher

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/scorer"
	rerrors "payment-reconciliation-engine/pkg/errors"
)

// amountOnly scores a pair by its amount similarity.
var amountOnly = scorer.FuncScorer{Fn: func(v []float64) (float64, error) {
	return v[0], nil
}}

func ids[T interface{ *models.BankTransaction | *models.PaymentRecord }](records []T) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		switch v := any(r).(type) {
		case *models.BankTransaction:
			out = append(out, v.ID)
		case *models.PaymentRecord:
			out = append(out, v.ID)
		}
	}
	return out
}

func TestAutoReconcile_InvoiceScenario(t *testing.T) {
	system := []*models.PaymentRecord{payment("P-55", "1000", day(10), "INV-55")}
	bank := []*models.BankTransaction{bankTx("T-55", "-1000", day(10), "", "INV-55 payment")}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected one match, got %d", len(result.Matches))
	}
	m := result.Matches[0]
	if m.Phase != models.PhaseExact || m.Confidence != 1.0 {
		t.Errorf("Expected exact phase with confidence 1.0, got %s", m)
	}
	if math.Abs(m.Features.AmountSimilarity-1.0) > 1e-9 {
		t.Errorf("Expected amount similarity 1.0, got %f", m.Features.AmountSimilarity)
	}
	if m.Features.DateProximity != 1.0 {
		t.Errorf("Expected date proximity 1.0, got %f", m.Features.DateProximity)
	}
	if m.Features.ReferenceSimilarity <= 0.5 {
		t.Errorf("Expected reference similarity above 0.5, got %f", m.Features.ReferenceSimilarity)
	}
	if m.SuggestedAction != models.ActionAutoMatch {
		t.Errorf("Expected auto-match, got %s", m.SuggestedAction)
	}
	if result.ReconciliationRate != 100 {
		t.Errorf("Expected rate 100, got %f", result.ReconciliationRate)
	}
	if result.RunID == "" {
		t.Error("Expected a run ID")
	}
}

func TestAutoReconcile_RepeatedRunsAgree(t *testing.T) {
	bank, system := fuzzyFixture()
	bank = append(bank, bankTx("T-55", "-1000", day(10), "", "INV-55 payment"))
	system = append(system, payment("P-55", "1000", day(10), "INV-55"))

	engine := NewMatchingEngine(nil, nil, amountOnly)
	first, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	second, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}

	if first.RunID == second.RunID {
		t.Error("Expected each run to get its own run ID")
	}
	first.RunID, second.RunID = "", ""
	first.ProcessingTime, second.ProcessingTime = 0, 0
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical results apart from run metadata")
	}
}

func TestAutoReconcile_ExactWinsOverFuzzy(t *testing.T) {
	system := []*models.PaymentRecord{payment("S1", "250", day(3), "REF-9")}
	bank := []*models.BankTransaction{bankTx("B1", "250", day(3), "REF-9", "")}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(1.0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Phase != models.PhaseExact {
		t.Fatalf("Expected a single exact match, got %v", result.Matches)
	}
	if len(result.Suggested) != 0 {
		t.Errorf("Matched records must not be suggested again, got %d", len(result.Suggested))
	}
}

func TestAutoReconcile_ExactScansBankInReverse(t *testing.T) {
	system := []*models.PaymentRecord{payment("S1", "80", day(5), "R-1")}
	bank := []*models.BankTransaction{
		bankTx("B-first", "80", day(5), "R-1", ""),
		bankTx("B-last", "80.50", day(5), "R-1", ""),
	}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}

	if got := pairs(result.Matches); !reflect.DeepEqual(got, []string{"S1-B-last"}) {
		t.Errorf("Matches = %v, want [S1-B-last]", got)
	}
	if got := ids(result.UnmatchedBank); !reflect.DeepEqual(got, []string{"B-first"}) {
		t.Errorf("Unmatched bank = %v", got)
	}
	if result.ReconciliationRate != 50 {
		t.Errorf("Expected rate 50, got %f", result.ReconciliationRate)
	}
}

func TestAutoReconcile_ExactRespectsTolerance(t *testing.T) {
	system := []*models.PaymentRecord{payment("S1", "100", day(5), "R-1")}
	bank := []*models.BankTransaction{bankTx("B1", "101.01", day(5), "R-1", "")}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	for _, m := range result.Matches {
		if m.Phase == models.PhaseExact {
			t.Errorf("Amount difference above tolerance must not match exactly: %s", m)
		}
	}
}

func TestAutoReconcile_PartialInvoiceNumber(t *testing.T) {
	system := []*models.PaymentRecord{payment("S1", "1000.50", day(10), "INV-0042")}
	bank := []*models.BankTransaction{bankTx("B1", "-1000", day(12), "", "Payment invoice 42 ACME")}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("Expected one partial match, got %d", len(result.Matches))
	}

	m := result.Matches[0]
	if m.Phase != models.PhasePartial {
		t.Errorf("Expected partial phase, got %s", m.Phase)
	}
	want := 0.4 + 0.3 + 0.3*0.8
	if math.Abs(m.Confidence-want) > 1e-9 {
		t.Errorf("Expected confidence %f, got %f", want, m.Confidence)
	}

	fields := map[string]models.FieldDifference{}
	for _, d := range m.Differences {
		fields[d.Field] = d
	}
	for _, f := range []string{"amount", "date", "reference"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("Expected a %s difference, got %+v", f, m.Differences)
		}
	}
	if fields["date"].Payment != "2024-01-10" || fields["date"].Transaction != "2024-01-12" {
		t.Errorf("Unexpected date difference: %+v", fields["date"])
	}
	if result.PhaseCounts[models.PhasePartial] != 1 {
		t.Errorf("Expected one partial match counted, got %v", result.PhaseCounts)
	}
}

func TestAutoReconcile_PartialNeedsBothGates(t *testing.T) {
	// Amount and date agree (0.7) but references do not overlap: above the
	// inner 0.5 gate, below the 0.8 acceptance threshold.
	system := []*models.PaymentRecord{payment("S1", "300", day(10), "ALPHA")}
	bank := []*models.BankTransaction{bankTx("B1", "300", day(11), "", "zz")}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Errorf("Expected no match, got %v", pairs(result.Matches))
	}
	if len(result.UnmatchedBank) != 1 || len(result.UnmatchedSystem) != 1 {
		t.Errorf("Expected both records unmatched")
	}

	cfg := DefaultToleranceConfig()
	cfg.PartialAcceptThreshold = 0.6
	result, err = engine.AutoReconcile(context.Background(), bank, system, cfg)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Phase != models.PhasePartial {
		t.Errorf("Lower accept threshold should admit the pair, got %v", result.Matches)
	}
}

func TestAutoReconcile_PartialPicksBestCandidate(t *testing.T) {
	system := []*models.PaymentRecord{
		payment("S-weak", "700", day(8), "ORDER 77"),
		payment("S-strong", "700", day(8), "ORDER-778"),
	}
	bank := []*models.BankTransaction{bankTx("B1", "700", day(9), "ORDER-778", "")}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if got := pairs(result.Matches); !reflect.DeepEqual(got, []string{"S-strong-B1"}) {
		t.Errorf("Matches = %v, want [S-strong-B1]", got)
	}
}

// fuzzyFixture builds pairs that neither the exact nor the partial phase
// accepts: dates five days apart and unrelated references.
func fuzzyFixture() ([]*models.BankTransaction, []*models.PaymentRecord) {
	bank := []*models.BankTransaction{
		bankTx("B1", "1000", day(15), "", "wire transfer"),
		bankTx("B2", "1000", day(15), "", "wire transfer"),
	}
	system := []*models.PaymentRecord{
		payment("S1", "1000", day(10), "R-1"),
		payment("S2", "1000", day(10), "R-2"),
	}
	return bank, system
}

func TestAutoReconcile_FuzzyPromotionBoundary(t *testing.T) {
	tests := []struct {
		confidence    float64
		wantMatches   []string
		wantSuggested int
		wantRate      float64
	}{
		{0.7, nil, 0, 0},
		{0.75, nil, 4, 0},
		{0.9, nil, 4, 0},
		{0.91, []string{"S1-B1", "S2-B2"}, 0, 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("confidence_%v", tt.confidence), func(t *testing.T) {
			bank, system := fuzzyFixture()
			engine := NewMatchingEngine(nil, nil, scorer.Constant(tt.confidence))

			result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
			if err != nil {
				t.Fatalf("AutoReconcile failed: %v", err)
			}

			got := pairs(result.Matches)
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.wantMatches) {
				t.Errorf("Matches = %v, want %v", got, tt.wantMatches)
			}
			if len(result.Suggested) != tt.wantSuggested {
				t.Errorf("Expected %d suggestions, got %d", tt.wantSuggested, len(result.Suggested))
			}
			if result.ReconciliationRate != tt.wantRate {
				t.Errorf("Expected rate %v, got %v", tt.wantRate, result.ReconciliationRate)
			}
			for _, m := range result.Matches {
				if m.Phase != models.PhaseFuzzy {
					t.Errorf("Expected fuzzy phase, got %s", m.Phase)
				}
			}
		})
	}
}

func TestAutoReconcile_SuggestionsTouchingPromotedAreDropped(t *testing.T) {
	bank := []*models.BankTransaction{
		bankTx("B1", "1000", day(15), "", "wire transfer"),
		bankTx("B2", "1010", day(15), "", "wire transfer"),
		bankTx("B3", "2100", day(15), "", "wire transfer"),
	}
	system := []*models.PaymentRecord{
		payment("S1", "1000", day(10), "R-1"),
		payment("S2", "2000", day(10), "R-2"),
	}

	engine := NewMatchingEngine(nil, nil, amountOnly)
	result, err := engine.AutoReconcile(context.Background(), bank, system, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}

	if got := pairs(result.Matches); !reflect.DeepEqual(got, []string{"S1-B1"}) {
		t.Errorf("Matches = %v, want [S1-B1]", got)
	}
	if got := pairs(result.Suggested); !reflect.DeepEqual(got, []string{"S2-B3"}) {
		t.Errorf("Suggested = %v, want [S2-B3]", got)
	}
	if got := ids(result.UnmatchedBank); !reflect.DeepEqual(got, []string{"B2", "B3"}) {
		t.Errorf("Unmatched bank = %v", got)
	}
	if got := ids(result.UnmatchedSystem); !reflect.DeepEqual(got, []string{"S2"}) {
		t.Errorf("Unmatched system = %v", got)
	}
	if math.Abs(result.ReconciliationRate-100.0/3) > 1e-9 {
		t.Errorf("Expected rate 33.33, got %f", result.ReconciliationRate)
	}
}

func TestAutoReconcile_EmptyBank(t *testing.T) {
	engine := NewMatchingEngine(nil, nil, scorer.Constant(1))
	result, err := engine.AutoReconcile(context.Background(), nil, []*models.PaymentRecord{payment("S1", "1", day(1), "")}, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if result.ReconciliationRate != 0 {
		t.Errorf("Expected rate 0, got %f", result.ReconciliationRate)
	}
	if len(result.UnmatchedSystem) != 1 {
		t.Errorf("Expected the system record to stay unmatched")
	}
}

func TestAutoReconcile_DoesNotMutateInput(t *testing.T) {
	bank, system := fuzzyFixture()
	engine := NewMatchingEngine(nil, nil, scorer.Constant(0.95))

	if _, err := engine.AutoReconcile(context.Background(), bank, system, nil); err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if got := ids(bank); !reflect.DeepEqual(got, []string{"B1", "B2"}) {
		t.Errorf("Input bank slice modified: %v", got)
	}
	if got := ids(system); !reflect.DeepEqual(got, []string{"S1", "S2"}) {
		t.Errorf("Input system slice modified: %v", got)
	}
}

func TestAutoReconcile_InvalidInput(t *testing.T) {
	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	bank := []*models.BankTransaction{bankTx("B1", "1", day(1), "", ""), bankTx("B1", "2", day(1), "", "")}

	_, err := engine.AutoReconcile(context.Background(), bank, nil, nil)
	if !rerrors.HasCode(err, rerrors.CodeDuplicateID) {
		t.Errorf("Expected duplicate ID error, got %v", err)
	}

	cfg := DefaultToleranceConfig()
	cfg.Workers = 0
	if _, err := engine.AutoReconcile(context.Background(), nil, nil, cfg); err == nil {
		t.Error("Expected invalid configuration to fail")
	}
}

func TestAutoReconcile_CancelledKeepsRulePhases(t *testing.T) {
	bank, system := fuzzyFixture()
	bank = append(bank, bankTx("B-exact", "55", day(2), "R-55", ""))
	system = append(system, payment("S-exact", "55", day(2), "R-55"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0.95))
	result, err := engine.AutoReconcile(ctx, bank, system, nil)
	if !rerrors.HasCode(err, rerrors.CodeCancelled) {
		t.Fatalf("Expected cancellation error, got %v", err)
	}
	if result == nil {
		t.Fatal("Expected a partial result")
	}
	if got := pairs(result.Matches); !reflect.DeepEqual(got, []string{"S-exact-B-exact"}) {
		t.Errorf("Matches = %v, want the exact pair only", got)
	}
}

func TestAutoReconcile_ReportsDuplicates(t *testing.T) {
	bank := []*models.BankTransaction{
		bankTx("B1", "-75", day(4), "", "Coffee Beans"),
		bankTx("B2", "75", day(4), "", "coffee beans "),
		bankTx("B3", "75", day(5), "", "coffee beans"),
	}

	engine := NewMatchingEngine(nil, nil, scorer.Constant(0))
	result, err := engine.AutoReconcile(context.Background(), bank, nil, nil)
	if err != nil {
		t.Fatalf("AutoReconcile failed: %v", err)
	}
	if len(result.DuplicateBank) != 1 {
		t.Fatalf("Expected one duplicate group, got %+v", result.DuplicateBank)
	}
	if got := result.DuplicateBank[0].IDs; !reflect.DeepEqual(got, []string{"B1", "B2"}) {
		t.Errorf("Duplicate IDs = %v", got)
	}
	if result.DuplicateSystem != nil {
		t.Errorf("Expected no system duplicates, got %+v", result.DuplicateSystem)
	}
}

func TestReferenceOverlap(t *testing.T) {
	base := func(ref, desc string) *models.PaymentRecord {
		p := payment("S", "1234.50", day(1), ref)
		p.Description = desc
		return p
	}

	tests := []struct {
		name string
		s    *models.PaymentRecord
		b    *models.BankTransaction
		want float64
	}{
		{"equal references", base("INV-9", ""), bankTx("B", "1", day(1), "inv-9", ""), overlapEqual},
		{"reference in description", base("INV-9", ""), bankTx("B", "1", day(1), "", "paid INV-9 today"), overlapContains},
		{"shared invoice number", base("Invoice #0099", ""), bankTx("B", "1", day(1), "", "INV 99 settlement"), overlapInvoice},
		{"amount in description", base("X", ""), bankTx("B", "1", day(1), "", "deposit 1,234.50 received"), overlapAmountHit},
		{"unrelated", base("abc", ""), bankTx("B", "1", day(1), "", "xyz"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := referenceOverlap(tt.s, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("referenceOverlap = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestMatchTransactions_LargeDatasetConcurrentRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large dataset test in short mode")
	}

	const size = 1000
	payments := make([]*models.PaymentRecord, 0, size)
	transactions := make([]*models.BankTransaction, 0, size)
	for i := 0; i < size; i++ {
		amount := fmt.Sprintf("%d.%02d", 100+i*7, i%100)
		payments = append(payments, payment(fmt.Sprintf("P%04d", i), amount, day(1+i%60), ""))
		transactions = append(transactions, bankTx(fmt.Sprintf("T%04d", i), "-"+amount, day(1+i%60), "", ""))
	}

	engine := NewMatchingEngine(nil, nil, amountTimesDate)

	const runs = 4
	results := make(chan []string, runs)
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		go func() {
			matches, err := engine.MatchTransactions(context.Background(), payments, transactions)
			if err != nil {
				errs <- err
				return
			}
			results <- pairs(matches)
		}()
	}

	var first []string
	for i := 0; i < runs; i++ {
		select {
		case err := <-errs:
			t.Fatalf("Concurrent matching failed: %v", err)
		case got := <-results:
			if len(got) != size {
				t.Errorf("Expected %d matches, got %d", size, len(got))
			}
			if first == nil {
				first = got
			} else if !reflect.DeepEqual(first, got) {
				t.Error("Concurrent runs produced different results")
			}
		case <-time.After(30 * time.Second):
			t.Fatal("Concurrent matching timed out")
		}
	}
}
