package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Ambassador is a member of the monthly ambassador program.
type Ambassador struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Wallet        string     `json:"wallet"`
	Handle        string     `json:"handle"`
	Tier          string     `json:"tier"`
	JoinedAt      time.Time  `json:"joined_at"`
	MonthlyReward uint64     `json:"monthly_reward"`
	TotalPaid     uint64     `json:"total_paid"`
	Active        bool       `json:"active"`
	LastPaidAt    *time.Time `json:"last_paid_at,omitempty"`
}

// RaidContribution is one rewarded social-media action.
type RaidContribution struct {
	ID          int64     `json:"id"`
	Wallet      string    `json:"wallet"`
	Handle      string    `json:"handle"`
	Kind        string    `json:"kind"`
	TweetURL    string    `json:"tweet_url"`
	Reward      uint64    `json:"reward"`
	Paid        bool      `json:"paid"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Referral rewards both the new holder and the referrer once the hold
// period has passed. Each party is paid independently.
type Referral struct {
	ID             int64     `json:"id"`
	NewWallet      string    `json:"new_wallet"`
	NewHandle      string    `json:"new_handle"`
	ReferrerWallet string    `json:"referrer_wallet"`
	ReferrerHandle string    `json:"referrer_handle"`
	PurchaseAmount uint64    `json:"purchase_amount"`
	NewReward      uint64    `json:"new_reward"`
	ReferrerReward uint64    `json:"referrer_reward"`
	TxRef          string    `json:"tx_ref,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	HoldUntil      string    `json:"hold_until"` // YYYY-MM-DD
	NewPaid        bool      `json:"new_paid"`
	ReferrerPaid   bool      `json:"referrer_paid"`
}

// Paid reports whether both parties have been paid.
func (r Referral) Paid() bool {
	return r.NewPaid && r.ReferrerPaid
}

// Referral parties.
const (
	PartyNew      = "new"
	PartyReferrer = "referrer"
)

// ContestWinner is a placed entry in a meme or community contest.
type ContestWinner struct {
	ID     int64  `json:"id"`
	Wallet string `json:"wallet"`
	Handle string `json:"handle"`
	Place  int    `json:"place"`
	Reward uint64 `json:"reward"`
	Paid   bool   `json:"paid"`
}

// PayoutResult is the outcome of one line item in a payout run.
type PayoutResult struct {
	Recipient string `json:"recipient"`
	Program   string `json:"program"`
	SourceID  int64  `json:"source_id"`
	Party     string `json:"party,omitempty"`
	Reason    string `json:"reason"`
	Amount    uint64 `json:"amount"`
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PayoutRun is an immutable record of one executed payout batch.
type PayoutRun struct {
	ID         string         `json:"id"`
	RanAt      time.Time      `json:"ran_at"`
	Total      uint64         `json:"total"`
	Recipients int            `json:"recipients"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Results    []PayoutResult `json:"results"`
}

// ReferralParty identifies one side of a referral.
type ReferralParty struct {
	ID    int64
	Party string
}

// Settlement is everything a payout run changes, applied atomically.
type Settlement struct {
	RaidIDs        []int64
	Referrals      []ReferralParty
	WinnerIDs      []int64
	AmbassadorPaid map[int64]uint64
	Run            PayoutRun
}

// AddAmbassador inserts an ambassador and returns it with its id.
func (s *Store) AddAmbassador(ctx context.Context, a Ambassador) (Ambassador, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.JoinedAt.IsZero() {
		a.JoinedAt = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ambassadors (name, wallet, handle, tier, joined_at, monthly_reward, total_paid, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Name, a.Wallet, a.Handle, a.Tier, formatTime(a.JoinedAt),
		int64(a.MonthlyReward), int64(a.TotalPaid), boolInt(a.Active))
	if err != nil {
		return Ambassador{}, fmt.Errorf("add ambassador: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return Ambassador{}, fmt.Errorf("add ambassador: %w", err)
	}
	return a, nil
}

// Ambassadors lists ambassadors in id order. activeOnly filters inactive ones.
func (s *Store) Ambassadors(ctx context.Context, activeOnly bool) ([]Ambassador, error) {
	query := `SELECT id, name, wallet, handle, tier, joined_at, monthly_reward, total_paid, active, last_paid_at
		FROM ambassadors`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list ambassadors: %w", err)
	}
	defer rows.Close()

	var out []Ambassador
	for rows.Next() {
		var (
			a        Ambassador
			joinedAt string
			monthly  int64
			total    int64
			active   int
			lastPaid sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Wallet, &a.Handle, &a.Tier, &joinedAt,
			&monthly, &total, &active, &lastPaid); err != nil {
			return nil, fmt.Errorf("list ambassadors: %w", err)
		}
		if a.JoinedAt, err = parseTime(joinedAt); err != nil {
			return nil, fmt.Errorf("list ambassadors: parse joined_at: %w", err)
		}
		if a.LastPaidAt, err = parseNullTime(lastPaid); err != nil {
			return nil, fmt.Errorf("list ambassadors: parse last_paid_at: %w", err)
		}
		a.MonthlyReward = uint64(monthly)
		a.TotalPaid = uint64(total)
		a.Active = active == 1
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ambassadors: %w", err)
	}
	return out, nil
}

// AddRaid inserts an unpaid raid contribution.
func (s *Store) AddRaid(ctx context.Context, r RaidContribution) (RaidContribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raid_contributions (wallet, handle, kind, tweet_url, reward, paid, submitted_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, r.Wallet, r.Handle, r.Kind, r.TweetURL, int64(r.Reward), formatTime(r.SubmittedAt))
	if err != nil {
		return RaidContribution{}, fmt.Errorf("add raid: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return RaidContribution{}, fmt.Errorf("add raid: %w", err)
	}
	r.Paid = false
	return r, nil
}

// UnpaidRaids lists raid contributions not yet paid, in id order.
func (s *Store) UnpaidRaids(ctx context.Context) ([]RaidContribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, handle, kind, tweet_url, reward, paid, submitted_at
		FROM raid_contributions WHERE paid = 0 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("unpaid raids: %w", err)
	}
	defer rows.Close()

	var out []RaidContribution
	for rows.Next() {
		var (
			r         RaidContribution
			reward    int64
			paid      int
			submitted string
		)
		if err := rows.Scan(&r.ID, &r.Wallet, &r.Handle, &r.Kind, &r.TweetURL, &reward, &paid, &submitted); err != nil {
			return nil, fmt.Errorf("unpaid raids: %w", err)
		}
		if r.SubmittedAt, err = parseTime(submitted); err != nil {
			return nil, fmt.Errorf("unpaid raids: parse submitted_at: %w", err)
		}
		r.Reward = uint64(reward)
		r.Paid = paid == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unpaid raids: %w", err)
	}
	return out, nil
}

// AddReferral inserts a referral with both parties unpaid.
func (s *Store) AddReferral(ctx context.Context, r Referral) (Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = s.now().UTC()
	}
	if r.HoldUntil == "" {
		return Referral{}, fmt.Errorf("add referral: empty hold date")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO referrals (new_wallet, new_handle, referrer_wallet, referrer_handle,
			purchase_amount, new_reward, referrer_reward, tx_ref, submitted_at, hold_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.NewWallet, r.NewHandle, r.ReferrerWallet, r.ReferrerHandle, int64(r.PurchaseAmount),
		int64(r.NewReward), int64(r.ReferrerReward), r.TxRef, formatTime(r.SubmittedAt), r.HoldUntil)
	if err != nil {
		return Referral{}, fmt.Errorf("add referral: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return Referral{}, fmt.Errorf("add referral: %w", err)
	}
	r.NewPaid, r.ReferrerPaid = false, false
	return r, nil
}

// ReadyReferrals lists referrals with at least one unpaid party whose hold
// date is on or before today (YYYY-MM-DD).
func (s *Store) ReadyReferrals(ctx context.Context, today string) ([]Referral, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, new_wallet, new_handle, referrer_wallet, referrer_handle, purchase_amount,
			new_reward, referrer_reward, tx_ref, submitted_at, hold_until, new_paid, referrer_paid
		FROM referrals
		WHERE (new_paid = 0 OR referrer_paid = 0) AND hold_until <= ?
		ORDER BY id
	`, today)
	if err != nil {
		return nil, fmt.Errorf("ready referrals: %w", err)
	}
	defer rows.Close()

	var out []Referral
	for rows.Next() {
		var (
			r                         Referral
			purchase, newR, referrerR int64
			submitted                 string
			newPaid, referrerPaid     int
		)
		if err := rows.Scan(&r.ID, &r.NewWallet, &r.NewHandle, &r.ReferrerWallet, &r.ReferrerHandle,
			&purchase, &newR, &referrerR, &r.TxRef, &submitted, &r.HoldUntil, &newPaid, &referrerPaid); err != nil {
			return nil, fmt.Errorf("ready referrals: %w", err)
		}
		if r.SubmittedAt, err = parseTime(submitted); err != nil {
			return nil, fmt.Errorf("ready referrals: parse submitted_at: %w", err)
		}
		r.PurchaseAmount = uint64(purchase)
		r.NewReward = uint64(newR)
		r.ReferrerReward = uint64(referrerR)
		r.NewPaid = newPaid == 1
		r.ReferrerPaid = referrerPaid == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ready referrals: %w", err)
	}
	return out, nil
}

// AddContestWinner inserts an unpaid contest winner.
func (s *Store) AddContestWinner(ctx context.Context, w ContestWinner) (ContestWinner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contest_winners (wallet, handle, place, reward, paid) VALUES (?, ?, ?, ?, 0)
	`, w.Wallet, w.Handle, w.Place, int64(w.Reward))
	if err != nil {
		return ContestWinner{}, fmt.Errorf("add contest winner: %w", err)
	}
	if w.ID, err = res.LastInsertId(); err != nil {
		return ContestWinner{}, fmt.Errorf("add contest winner: %w", err)
	}
	w.Paid = false
	return w, nil
}

// UnpaidContestWinners lists unpaid winners by place.
func (s *Store) UnpaidContestWinners(ctx context.Context) ([]ContestWinner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, handle, place, reward, paid
		FROM contest_winners WHERE paid = 0 ORDER BY place, id
	`)
	if err != nil {
		return nil, fmt.Errorf("unpaid contest winners: %w", err)
	}
	defer rows.Close()

	var out []ContestWinner
	for rows.Next() {
		var (
			w      ContestWinner
			reward int64
			paid   int
		)
		if err := rows.Scan(&w.ID, &w.Wallet, &w.Handle, &w.Place, &reward, &paid); err != nil {
			return nil, fmt.Errorf("unpaid contest winners: %w", err)
		}
		w.Reward = uint64(reward)
		w.Paid = paid == 1
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unpaid contest winners: %w", err)
	}
	return out, nil
}

// Settle marks every successfully paid source record, advances ambassador
// totals and appends the run to the payout history in one transaction.
func (s *Store) Settle(ctx context.Context, st Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := json.Marshal(st.Run.Results)
	if err != nil {
		return fmt.Errorf("settle payout run: marshal results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settle payout run: begin: %w", err)
	}
	defer tx.Rollback()

	ranAt := formatTime(st.Run.RanAt)
	for _, id := range st.RaidIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE raid_contributions SET paid = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("settle payout run: raid %d: %w", id, err)
		}
	}
	for _, rp := range st.Referrals {
		col := "new_paid"
		if rp.Party == PartyReferrer {
			col = "referrer_paid"
		}
		if _, err := tx.ExecContext(ctx, `UPDATE referrals SET `+col+` = 1 WHERE id = ?`, rp.ID); err != nil {
			return fmt.Errorf("settle payout run: referral %d: %w", rp.ID, err)
		}
	}
	for _, id := range st.WinnerIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE contest_winners SET paid = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("settle payout run: winner %d: %w", id, err)
		}
	}
	for id, amount := range st.AmbassadorPaid {
		_, err := tx.ExecContext(ctx, `
			UPDATE ambassadors SET total_paid = total_paid + ?, last_paid_at = ? WHERE id = ?
		`, int64(amount), ranAt, id)
		if err != nil {
			return fmt.Errorf("settle payout run: ambassador %d: %w", id, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payout_runs (id, ran_at, total, recipients, succeeded, failed, results)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, st.Run.ID, ranAt, int64(st.Run.Total), st.Run.Recipients, st.Run.Succeeded, st.Run.Failed, string(results))
	if err != nil {
		return fmt.Errorf("settle payout run: append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("settle payout run: commit: %w", err)
	}
	return nil
}

// PayoutRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) PayoutRuns(ctx context.Context, limit int) ([]PayoutRun, error) {
	query := `SELECT id, ran_at, total, recipients, succeeded, failed, results
		FROM payout_runs ORDER BY ran_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payout runs: %w", err)
	}
	defer rows.Close()

	var out []PayoutRun
	for rows.Next() {
		var (
			r       PayoutRun
			ranAt   string
			total   int64
			results string
		)
		if err := rows.Scan(&r.ID, &ranAt, &total, &r.Recipients, &r.Succeeded, &r.Failed, &results); err != nil {
			return nil, fmt.Errorf("payout runs: %w", err)
		}
		if r.RanAt, err = parseTime(ranAt); err != nil {
			return nil, fmt.Errorf("payout runs: parse ran_at: %w", err)
		}
		if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
			return nil, fmt.Errorf("payout runs: decode results: %w", err)
		}
		r.Total = uint64(total)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payout runs: %w", err)
	}
	return out, nil
}
