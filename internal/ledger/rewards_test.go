package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardRecords_Settle(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	amb, err := s.AddAmbassador(ctx, Ambassador{
		Name: "Ada", Wallet: "WalletAda", Handle: "@ada", Tier: "gold",
		MonthlyReward: 40000, Active: true,
	})
	require.NoError(t, err)
	_, err = s.AddAmbassador(ctx, Ambassador{Name: "Idle", Wallet: "WalletIdle", Active: false})
	require.NoError(t, err)

	raid, err := s.AddRaid(ctx, RaidContribution{Wallet: "WalletR", Handle: "@r", Kind: "quote", Reward: 500})
	require.NoError(t, err)
	other, err := s.AddRaid(ctx, RaidContribution{Wallet: "WalletS", Handle: "@s", Kind: "reply", Reward: 100})
	require.NoError(t, err)

	ref, err := s.AddReferral(ctx, Referral{
		NewWallet: "WalletN", ReferrerWallet: "WalletF",
		NewReward: 1000, ReferrerReward: 2000, HoldUntil: "2026-02-20",
	})
	require.NoError(t, err)
	_, err = s.AddReferral(ctx, Referral{NewWallet: "Later", ReferrerWallet: "LaterF", HoldUntil: "2026-04-01"})
	require.NoError(t, err)

	winner, err := s.AddContestWinner(ctx, ContestWinner{Wallet: "WalletW", Handle: "@w", Place: 1, Reward: 5000})
	require.NoError(t, err)

	active, err := s.Ambassadors(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, amb.ID, active[0].ID)
	assert.Equal(t, epoch, active[0].JoinedAt)

	ready, err := s.ReadyReferrals(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, ref.ID, ready[0].ID)

	run := PayoutRun{
		ID:         "run-1",
		RanAt:      epoch,
		Total:      11000,
		Recipients: 5,
		Succeeded:  4,
		Failed:     1,
		Results: []PayoutResult{
			{Recipient: "WalletR", Program: "raid", SourceID: raid.ID, Amount: 500, Success: true, Reference: "sig-r"},
			{Recipient: "WalletS", Program: "raid", SourceID: other.ID, Amount: 100, Success: false, Error: "boom"},
		},
	}
	err = s.Settle(ctx, Settlement{
		RaidIDs:        []int64{raid.ID},
		Referrals:      []ReferralParty{{ID: ref.ID, Party: PartyReferrer}},
		WinnerIDs:      []int64{winner.ID},
		AmbassadorPaid: map[int64]uint64{amb.ID: 10000},
		Run:            run,
	})
	require.NoError(t, err)

	raids, err := s.UnpaidRaids(ctx)
	require.NoError(t, err)
	require.Len(t, raids, 1, "failed item stays unpaid")
	assert.Equal(t, other.ID, raids[0].ID)

	ready, err = s.ReadyReferrals(ctx, "2026-03-01")
	require.NoError(t, err)
	require.Len(t, ready, 1, "referral with one unpaid party is still ready")
	assert.True(t, ready[0].ReferrerPaid)
	assert.False(t, ready[0].NewPaid)
	assert.False(t, ready[0].Paid())

	winners, err := s.UnpaidContestWinners(ctx)
	require.NoError(t, err)
	assert.Empty(t, winners)

	active, err = s.Ambassadors(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), active[0].TotalPaid)
	require.NotNil(t, active[0].LastPaidAt)

	runs, err := s.PayoutRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run, runs[0])
}

func TestPayoutRuns_NewestFirst(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		err := s.Settle(ctx, Settlement{Run: PayoutRun{
			ID:      id,
			RanAt:   epoch.Add(time.Duration(i) * time.Hour),
			Results: []PayoutResult{},
		}})
		require.NoError(t, err)
	}

	runs, err := s.PayoutRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestAddReferral_RequiresHoldDate(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.AddReferral(context.Background(), Referral{NewWallet: "a", ReferrerWallet: "b"})
	assert.Error(t, err)
}
