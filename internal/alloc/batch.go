package alloc

import (
	"math"
	"math/big"
	"math/bits"
)

// Program identifies the reward program a payout line item came from.
type Program string

const (
	ProgramAmbassador Program = "ambassador"
	ProgramRaid       Program = "raid"
	ProgramReferral   Program = "referral"
	ProgramContest    Program = "contest"
)

// Payout is one line item of a payout batch, in whole tokens.
//
// SourceID and Party point back at the record that produced the item so the
// processor can mark exactly that record paid. Party is only set for
// referrals ("new" or "referrer").
type Payout struct {
	Recipient string  `json:"recipient"`
	Amount    uint64  `json:"amount"`
	Reason    string  `json:"reason"`
	Program   Program `json:"program"`
	SourceID  int64   `json:"source_id"`
	Party     string  `json:"party,omitempty"`
}

// ComputeCappedBatch applies the per-person cap, then the total cap, to a
// batch of line items and returns a new slice in the same order.
//
//  1. Items are summed per recipient. A recipient whose sum exceeds
//     perPersonCap has every item scaled by perPersonCap/sum.
//  2. The (possibly scaled) items are summed. If the total exceeds totalCap,
//     every item is scaled by totalCap/total.
//
// Sums are exact even when they pass 2^64. Each scaled amount is floored,
// so the realized total is at or below both caps and may land strictly
// below them. Items that floor to zero are kept. A cap of 0 disables that
// tier.
func ComputeCappedBatch(items []Payout, perPersonCap, totalCap uint64) []Payout {
	out := make([]Payout, len(items))
	copy(out, items)

	if perPersonCap > 0 {
		limit := new(big.Int).SetUint64(perPersonCap)
		sums := exactSums(out)
		for i := range out {
			if sum := sums[out[i].Recipient]; sum.Cmp(limit) > 0 {
				out[i].Amount = scale(out[i].Amount, limit, sum)
			}
		}
	}

	if totalCap > 0 {
		limit := new(big.Int).SetUint64(totalCap)
		total := new(big.Int)
		for _, p := range out {
			total.Add(total, new(big.Int).SetUint64(p.Amount))
		}
		if total.Cmp(limit) > 0 {
			for i := range out {
				out[i].Amount = scale(out[i].Amount, limit, total)
			}
		}
	}

	return out
}

// scale returns floor(amount*limit/sum). amount <= sum keeps the result at
// or below limit.
func scale(amount uint64, limit, sum *big.Int) uint64 {
	q := new(big.Int).SetUint64(amount)
	q.Mul(q, limit)
	return q.Quo(q, sum).Uint64()
}

func exactSums(items []Payout) map[string]*big.Int {
	sums := make(map[string]*big.Int, len(items))
	for _, p := range items {
		sum, ok := sums[p.Recipient]
		if !ok {
			sum = new(big.Int)
			sums[p.Recipient] = sum
		}
		sum.Add(sum, new(big.Int).SetUint64(p.Amount))
	}
	return sums
}

// Total sums the amounts of items, saturating at math.MaxUint64.
func Total(items []Payout) uint64 {
	var total uint64
	for _, p := range items {
		total = addSat(total, p.Amount)
	}
	return total
}

// SumByRecipient sums amounts per recipient address, saturating at
// math.MaxUint64.
func SumByRecipient(items []Payout) map[string]uint64 {
	sums := make(map[string]uint64, len(items))
	for _, p := range items {
		sums[p.Recipient] = addSat(sums[p.Recipient], p.Amount)
	}
	return sums
}

func addSat(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}
