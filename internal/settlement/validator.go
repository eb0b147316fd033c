package settlement

import (
	"context"
	"fmt"

	"fanpool/internal/models"
	"fanpool/internal/repository"
)

const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"

	validatePageSize = 500
)

type Finding struct {
	Severity      string `json:"severity"`
	Code          string `json:"code"`
	ParticipantID string `json:"participant_id,omitempty"`
	Message       string `json:"message"`
	Expected      int64  `json:"expected"`
	Actual        int64  `json:"actual"`
}

type ReconciliationReport struct {
	PoolID           string     `json:"pool_id"`
	Void             bool       `json:"void"`
	AccuracyRate     float64    `json:"accuracy_rate"`
	Checked          int        `json:"checked"`
	Unsettled        int        `json:"unsettled"`
	Winners          int64      `json:"winners"`
	ExpectedTotal    int64      `json:"expected_total"`
	DistributedTotal int64      `json:"distributed_total"`
	Dust             int64      `json:"dust"`
	DustBound        int64      `json:"dust_bound"`
	Unclaimed        int64      `json:"unclaimed"`
	Aggregates       Aggregates `json:"aggregates"`
	Errors           []Finding  `json:"errors"`
	Warnings         []Finding  `json:"warnings"`
}

func (r *ReconciliationReport) add(f Finding) {
	if f.Severity == SeverityError {
		r.Errors = append(r.Errors, f)
		return
	}
	r.Warnings = append(r.Warnings, f)
}

// ValidateRun re-derives every stored settlement of a pool from the ledger
// and reports discrepancies. It never writes.
func (e *Engine) ValidateRun(ctx context.Context, poolID string) (ReconciliationReport, error) {
	report := ReconciliationReport{PoolID: poolID, Errors: []Finding{}, Warnings: []Finding{}}

	pool, err := e.loadPool(ctx, poolID)
	if err != nil {
		return report, err
	}
	ws, ok, err := ParseWinningSet(pool.WinningOptionIDs)
	if err != nil {
		return report, fmt.Errorf("%w: decode recorded winning set: %v", ErrLedgerUnavailable, err)
	}
	if !ok {
		return report, fmt.Errorf("%w: %s is %s", ErrPoolNotSettling, poolID, pool.Status)
	}
	agg, err := e.computeAggregates(ctx, pool, ws)
	if err != nil {
		return report, err
	}
	report.Void = ws.Void()
	report.Aggregates = agg

	erroneous, err := e.checkSettlements(ctx, poolID, agg, ws, &report)
	if err != nil {
		return report, err
	}
	if err := e.checkUnsettled(ctx, poolID, &report); err != nil {
		return report, err
	}
	checkTotals(agg, &report)

	report.AccuracyRate = 1.0
	if report.Checked > 0 {
		report.AccuracyRate = float64(report.Checked-erroneous) / float64(report.Checked)
	}
	return report, nil
}

// checkSettlements walks stored settlements page by page and returns how many
// of them carry at least one error.
func (e *Engine) checkSettlements(ctx context.Context, poolID string, agg Aggregates, ws WinningSet, report *ReconciliationReport) (int, error) {
	erroneous := 0
	after := ""
	for {
		page, err := e.store.ListSettlements(ctx, repository.ListSettlementsParams{
			PoolID:           poolID,
			AfterParticipant: after,
			Limit:            validatePageSize,
		})
		if err != nil {
			return erroneous, fmt.Errorf("%w: list settlements: %v", ErrLedgerUnavailable, err)
		}
		if len(page) == 0 {
			return erroneous, nil
		}
		ids := make([]string, 0, len(page))
		for _, row := range page {
			ids = append(ids, row.ParticipantID)
		}
		bets, err := e.store.ListPoolBets(ctx, poolID, ids)
		if err != nil {
			return erroneous, fmt.Errorf("%w: list bets: %v", ErrLedgerUnavailable, err)
		}
		byParticipant := make(map[string][]models.Bet, len(ids))
		for _, bet := range bets {
			byParticipant[bet.ParticipantID] = append(byParticipant[bet.ParticipantID], bet)
		}

		for _, row := range page {
			report.Checked++
			findings := checkSettlement(row, byParticipant[row.ParticipantID], agg, ws)
			hasError := false
			for _, f := range findings {
				report.add(f)
				if f.Severity == SeverityError {
					hasError = true
				}
			}
			if hasError {
				erroneous++
			}
			switch row.Type {
			case models.SettlementPayout:
				report.Winners++
				report.DistributedTotal += row.Amount
			case models.SettlementRefund:
				report.DistributedTotal += row.Amount
			}
		}

		after = page[len(page)-1].ParticipantID
		if len(page) < validatePageSize {
			return erroneous, nil
		}
	}
}

func checkSettlement(row models.Settlement, bets []models.Bet, agg Aggregates, ws WinningSet) []Finding {
	pid := row.ParticipantID
	if len(bets) == 0 {
		return []Finding{{
			Severity:      SeverityError,
			Code:          "orphan_settlement",
			ParticipantID: pid,
			Message:       "settlement without bets in the ledger",
			Actual:        row.Amount,
		}}
	}
	var out []Finding
	want, err := Resolve(pid, bets, agg, ws)
	if err != nil {
		return []Finding{finding(SeverityError, "stake_overflow", pid, err.Error())}
	}
	if row.ParticipantTotal != want.ParticipantTotal {
		out = append(out, finding(SeverityError, "participant_total_mismatch", pid, "stored participant total differs from ledger").with(want.ParticipantTotal, row.ParticipantTotal))
	}
	if row.ParticipantWinning != want.ParticipantWinning {
		out = append(out, finding(SeverityError, "participant_winning_mismatch", pid, "stored winning stake differs from ledger").with(want.ParticipantWinning, row.ParticipantWinning))
	}

	// The wrong type is a wrong entitlement even when the amount happens to
	// match; refund-shaped state in a payout pool (or the reverse) is also
	// flagged on its own.
	if row.Type != want.Type {
		out = append(out, finding(SeverityError, "type_mismatch", pid, fmt.Sprintf("stored %s, ledger resolves to %s", row.Type, want.Type)))
	}
	if (ws.Void() && row.Type != models.SettlementRefund) || (!ws.Void() && row.Type == models.SettlementRefund) {
		out = append(out, finding(SeverityWarning, "settlement_shape", pid, fmt.Sprintf("%s settlement in a %s pool", row.Type, poolKind(ws))))
	}

	var expected int64
	switch row.Type {
	case models.SettlementPayout:
		expected = PayoutShare(agg.DistributablePool, want.ParticipantWinning, agg.WinningStaked)
	case models.SettlementRefund:
		expected = want.ParticipantTotal
	case models.SettlementLoss:
		expected = 0
	default:
		return append(out, finding(SeverityError, "unknown_type", pid, fmt.Sprintf("unknown settlement type %q", row.Type)))
	}
	if row.Amount != expected {
		out = append(out, finding(SeverityError, "amount_mismatch", pid, fmt.Sprintf("%s amount differs from recomputed value", row.Type)).with(expected, row.Amount))
	}
	return out
}

func (e *Engine) checkUnsettled(ctx context.Context, poolID string, report *ReconciliationReport) error {
	after := ""
	for {
		ids, err := e.store.ListParticipantIDs(ctx, poolID, repository.ListParticipantsParams{
			After: after,
			Limit: validatePageSize,
		})
		if err != nil {
			return fmt.Errorf("%w: list participants: %v", ErrLedgerUnavailable, err)
		}
		if len(ids) == 0 {
			return nil
		}
		rows, err := e.store.ListSettlementsByParticipants(ctx, poolID, ids)
		if err != nil {
			return fmt.Errorf("%w: list settlements: %v", ErrLedgerUnavailable, err)
		}
		settled := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			settled[row.ParticipantID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := settled[id]; ok {
				continue
			}
			report.Unsettled++
			report.add(finding(SeverityWarning, "unsettled", id, "participant has bets but no settlement"))
		}
		after = ids[len(ids)-1]
		if len(ids) < validatePageSize {
			return nil
		}
	}
}

func checkTotals(agg Aggregates, report *ReconciliationReport) {
	if report.Void {
		report.ExpectedTotal = agg.TotalStaked
	} else {
		report.ExpectedTotal = agg.DistributablePool
	}
	if report.DistributedTotal > report.ExpectedTotal {
		report.add(finding(SeverityError, "over_distribution", "", "settled amounts exceed what the pool can pay").with(report.ExpectedTotal, report.DistributedTotal))
		return
	}
	if report.Unsettled > 0 {
		return
	}

	drift := report.ExpectedTotal - report.DistributedTotal
	switch {
	case report.Void:
		if drift != 0 {
			report.add(finding(SeverityError, "refund_drift", "", "void pool refunds do not add up to total staked").with(report.ExpectedTotal, report.DistributedTotal))
		}
	case agg.WinningStaked == 0:
		report.Unclaimed = drift
	default:
		report.Dust = drift
		report.DustBound = DustBound(report.Winners)
		if drift > report.DustBound {
			report.add(finding(SeverityError, "dust_exceeds_bound", "", "undistributed remainder is larger than floor rounding allows").with(report.DustBound, drift))
		}
	}
}

func finding(severity, code, participantID, message string) Finding {
	return Finding{
		Severity:      severity,
		Code:          code,
		ParticipantID: participantID,
		Message:       message,
	}
}

func (f Finding) with(expected, actual int64) Finding {
	f.Expected = expected
	f.Actual = actual
	return f
}

func poolKind(ws WinningSet) string {
	if ws.Void() {
		return "void"
	}
	return "payout"
}
