package settlement

import (
	"context"
	"fmt"
	"math/big"

	"fanpool/internal/models"
)

// Candidate is the settlement a participant resolves to before it is stored.
type Candidate struct {
	ParticipantID      string `json:"participant_id"`
	Type               string `json:"type"`
	Amount             int64  `json:"amount"`
	ParticipantTotal   int64  `json:"participant_total"`
	ParticipantWinning int64  `json:"participant_winning"`
}

// Resolve decides one participant's outcome from their bets and the shared
// aggregates. It performs no I/O and uses integer arithmetic only.
func Resolve(participantID string, bets []models.Bet, agg Aggregates, ws WinningSet) (Candidate, error) {
	c := Candidate{ParticipantID: participantID}
	var ok bool
	for _, bet := range bets {
		if bet.Amount < 0 {
			return c, fmt.Errorf("%w: negative bet %s for participant %s", ErrStakeOverflow, bet.ID, participantID)
		}
		if c.ParticipantTotal, ok = addStake(c.ParticipantTotal, bet.Amount); !ok {
			return c, fmt.Errorf("%w: participant %s", ErrStakeOverflow, participantID)
		}
		if ws.Contains(bet.OptionID) {
			c.ParticipantWinning += bet.Amount
		}
	}

	switch {
	case ws.Void():
		c.Type = models.SettlementRefund
		c.Amount = c.ParticipantTotal
	case c.ParticipantWinning > 0 && agg.WinningStaked > 0:
		c.Type = models.SettlementPayout
		c.Amount = PayoutShare(agg.DistributablePool, c.ParticipantWinning, agg.WinningStaked)
	default:
		c.Type = models.SettlementLoss
		c.Amount = 0
	}
	return c, nil
}

// PayoutShare is floor(distributable * winning / winningStaked). The product
// is formed in big.Int since it can exceed int64 for large pools.
func PayoutShare(distributable, winning, winningStaked int64) int64 {
	if winningStaked <= 0 || winning <= 0 || distributable <= 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(distributable), big.NewInt(winning))
	num.Quo(num, big.NewInt(winningStaked))
	return num.Int64()
}

// ResolveParticipant loads one participant's bets and resolves them against
// aggregates computed earlier in the run.
func (e *Engine) ResolveParticipant(ctx context.Context, poolID, participantID string, agg Aggregates, ws WinningSet) (Candidate, error) {
	bets, err := e.store.ListParticipantBets(ctx, poolID, participantID)
	if err != nil {
		return Candidate{}, fmt.Errorf("list bets for participant %s: %w", participantID, err)
	}
	if len(bets) == 0 {
		return Candidate{}, fmt.Errorf("participant %s has no bets in pool %s", participantID, poolID)
	}
	return Resolve(participantID, bets, agg, ws)
}
