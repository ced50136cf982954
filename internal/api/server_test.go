package api

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/ledger"
	"github.com/roach88/listburn/internal/metrics"
	"github.com/roach88/listburn/internal/rewards"
	"github.com/roach88/listburn/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeService struct {
	mu       sync.Mutex
	pending  map[string]engine.PendingApproval
	approved []string
	rejected []string
	executes []bool
	payout   rewards.Report
	payErr   error
	posts    []ledger.Post
}

func newFakeService() *fakeService {
	alice, _ := burn.NewTarget("epstein", "Alice Example", "alice", decimal.RequireFromString("0.5"), decimal.Zero, burn.StatusConfirmed)
	return &fakeService{
		pending: map[string]engine.PendingApproval{
			"alice": {Target: alice, Amount: 5_000_000_000_000, DetectedAt: testutil.Epoch},
		},
	}
}

func (f *fakeService) Summary(context.Context) (engine.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum engine.Summary
	for _, pa := range f.pending {
		sum.PendingApprovals = append(sum.PendingApprovals, pa)
	}
	sum.Stats.AwaitingApproval = len(f.pending)
	return sum, nil
}

func (f *fakeService) PendingApprovals(context.Context) ([]engine.PendingApproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []engine.PendingApproval
	for _, pa := range f.pending {
		out = append(out, pa)
	}
	return out, nil
}

func (f *fakeService) Approve(_ context.Context, slug string) (engine.ScheduledBurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pa, ok := f.pending[slug]
	if !ok {
		return engine.ScheduledBurn{}, fmt.Errorf("approve %s: %w", slug, burn.ErrNotPending)
	}
	delete(f.pending, slug)
	f.approved = append(f.approved, slug)
	return engine.ScheduledBurn{Target: pa.Target, Amount: pa.Amount, ScheduledFor: pa.DetectedAt}, nil
}

func (f *fakeService) Reject(_ context.Context, slug string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[slug]; !ok {
		return fmt.Errorf("reject %s: %w", slug, burn.ErrNotPending)
	}
	delete(f.pending, slug)
	f.rejected = append(f.rejected, slug)
	return nil
}

func (f *fakeService) Payout(_ context.Context, execute bool) (rewards.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executes = append(f.executes, execute)
	r := f.payout
	r.DryRun = !execute
	return r, f.payErr
}

func (f *fakeService) UpcomingPosts(_ context.Context, limit int) ([]ledger.Post, error) {
	if limit < len(f.posts) {
		return f.posts[:limit], nil
	}
	return f.posts, nil
}

func newTestServer(t *testing.T, svc Service, token string) (*httptest.Server, *Client) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	srv := NewServer(Config{Token: token}, svc, m, testutil.DiscardLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, NewClient(ts.URL, token)
}

func TestApprovals_ListAndApprove(t *testing.T) {
	svc := newFakeService()
	_, client := newTestServer(t, svc, "")
	ctx := context.Background()

	pending, err := client.PendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Target.Slug)
	assert.Equal(t, "0.5", pending[0].Target.AllocationPercent.String())

	sb, err := client.Approve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000_000_000), sb.Amount)
	assert.Equal(t, []string{"alice"}, svc.approved)

	pending, err = client.PendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestApprove_NotPendingIs404(t *testing.T) {
	_, client := newTestServer(t, newFakeService(), "")

	_, err := client.Approve(context.Background(), "nobody")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.ErrorIs(t, err, burn.ErrNotPending)
	assert.False(t, IsUnreachable(err))
}

func TestReject(t *testing.T) {
	svc := newFakeService()
	_, client := newTestServer(t, svc, "")
	ctx := context.Background()

	require.NoError(t, client.Reject(ctx, "alice"))
	assert.Equal(t, []string{"alice"}, svc.rejected)

	err := client.Reject(ctx, "alice")
	assert.ErrorIs(t, err, burn.ErrNotPending)
}

func TestSummary(t *testing.T) {
	_, client := newTestServer(t, newFakeService(), "")

	sum, err := client.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stats.AwaitingApproval)
	require.Len(t, sum.PendingApprovals, 1)
}

func TestPayout_ExecuteFlag(t *testing.T) {
	svc := newFakeService()
	svc.payout = rewards.Report{Paid: 7498, Succeeded: 6}
	ts, client := newTestServer(t, svc, "")
	ctx := context.Background()

	r, err := client.Payout(ctx, false)
	require.NoError(t, err)
	assert.True(t, r.DryRun)

	r, err = client.Payout(ctx, true)
	require.NoError(t, err)
	assert.False(t, r.DryRun)
	assert.Equal(t, uint64(7498), r.Paid)
	assert.Equal(t, []bool{false, true}, svc.executes)

	resp, err := http.Post(ts.URL+"/payouts?execute=maybe", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPayout_InsufficientFundsIs409(t *testing.T) {
	svc := newFakeService()
	svc.payErr = fmt.Errorf("payout: %w", &rewards.InsufficientFundsError{Need: 10, Have: 1})
	_, client := newTestServer(t, svc, "")

	_, err := client.Payout(context.Background(), true)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "insufficient_funds", se.Code)
}

func TestPosts_Limit(t *testing.T) {
	svc := newFakeService()
	for i := range 3 {
		svc.posts = append(svc.posts, ledger.Post{ID: fmt.Sprintf("p%d", i), Kind: "odds", ScheduledFor: testutil.Epoch})
	}
	ts, client := newTestServer(t, svc, "")

	posts, err := client.UpcomingPosts(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	resp, err := http.Get(ts.URL + "/posts?limit=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuth_RequiredOnPost(t *testing.T) {
	svc := newFakeService()
	ts, client := newTestServer(t, svc, "s3cret")
	ctx := context.Background()

	_, err := NewClient(ts.URL, "").Approve(ctx, "alice")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Empty(t, svc.approved)

	_, err = NewClient(ts.URL, "").PendingApprovals(ctx)
	assert.NoError(t, err, "reads stay open")

	_, err = client.Approve(ctx, "alice")
	assert.NoError(t, err)
}

func TestHealthzAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t, newFakeService(), "")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "listburn_pending_approvals")

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewClient(addr, "").Summary(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(Config{ReadTimeout: time.Second, WriteTimeout: time.Second}, newFakeService(), nil, testutil.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
