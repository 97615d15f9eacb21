package allocation

import (
	fmath "FundLedger/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Proposal is the immutable result of one Allocate run. It is what a preview
// shows and what a draft persists; nothing re-derives it from other state.
type Proposal struct {
	id        uuid.UUID
	total     decimal.Decimal
	weightSum decimal.Decimal
	precision fmath.Precision
	shares    []Share
}

// ID is deterministic: identical inputs always yield the same id.
func (p *Proposal) ID() uuid.UUID { return p.id }

func (p *Proposal) Total() decimal.Decimal { return p.total }

func (p *Proposal) WeightSum() decimal.Decimal { return p.weightSum }

func (p *Proposal) Precision() fmath.Precision { return p.precision }

func (p *Proposal) Len() int { return len(p.shares) }

// Shares returns a copy of the ordered shares.
func (p *Proposal) Shares() []Share {
	out := make([]Share, len(p.shares))
	copy(out, p.shares)
	return out
}

// Sum re-adds the share amounts. It always equals Total.
func (p *Proposal) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range p.shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// ShareOf returns the share for a participant, if present.
func (p *Proposal) ShareOf(participantID string) (Share, bool) {
	for _, s := range p.shares {
		if s.ParticipantID == participantID {
			return s, true
		}
	}
	return Share{}, false
}
