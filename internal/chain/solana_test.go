package chain

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "So11111111111111111111111111111111111111112"

func newTestSolana(t *testing.T, url string) *Solana {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	s, err := NewSolana(SolanaConfig{
		RPCURL:     url,
		Mint:       testMint,
		Decimals:   9,
		PrivateKey: key.String(),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestNewSolana_Validation(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  SolanaConfig
	}{
		{"missing rpc", SolanaConfig{Mint: testMint, PrivateKey: key.String()}},
		{"bad mint", SolanaConfig{RPCURL: "http://x", Mint: "not-a-key", PrivateKey: key.String()}},
		{"bad key", SolanaConfig{RPCURL: "http://x", Mint: testMint, PrivateKey: "0OIl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSolana(tt.cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestSolana_Balance(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		method = req.Method

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"context": map[string]any{"slot": 1},
				"value": map[string]any{
					"amount":         "492461000000000",
					"decimals":       9,
					"uiAmountString": "492461",
				},
			},
		})
	}))
	defer srv.Close()

	s := newTestSolana(t, srv.URL)
	bal, err := s.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(492461000000000), bal)
	assert.Equal(t, "getTokenAccountBalance", method)
}

func TestSolana_TransferInvalidRecipient(t *testing.T) {
	s := newTestSolana(t, "http://127.0.0.1:1")

	res := s.Transfer(context.Background(), "definitely not base58!", 1)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error(), "invalid recipient")
}

// rpcStub answers JSON-RPC calls by method. A value of type rpcError is
// sent as an error reply.
type rpcError string

func rpcStub(t *testing.T, replies map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		body := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		reply, ok := replies[req.Method]
		switch msg, isErr := reply.(rpcError); {
		case !ok:
			body["error"] = map[string]any{"code": -32601, "message": "method not found: " + req.Method}
		case isErr:
			body["error"] = map[string]any{"code": -32002, "message": string(msg)}
		default:
			body["result"] = reply
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statuses(status map[string]any) map[string]any {
	return map[string]any{
		"context": map[string]any{"slot": 1},
		"value":   []any{status},
	}
}

func TestSolana_BurnKeepsAttemptWhenSendFails(t *testing.T) {
	blockhash := solana.Hash(solana.MustPublicKeyFromBase58(testMint)).String()
	srv := rpcStub(t, map[string]any{
		"getLatestBlockhash": map[string]any{
			"context": map[string]any{"slot": 1},
			"value":   map[string]any{"blockhash": blockhash, "lastValidBlockHeight": 150},
		},
		"sendTransaction": rpcError("node is behind"),
	})
	s := newTestSolana(t, srv.URL)

	res := s.Burn(context.Background(), "alpha", 1000)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Reference)
	assert.Equal(t, res.Reference+"@150", res.Attempt)

	sig, lastValid, err := parseAttempt(res.Attempt)
	require.NoError(t, err)
	assert.Equal(t, res.Reference, sig.String())
	assert.Equal(t, uint64(150), lastValid)
}

func TestSolana_BurnWithoutBlockhashHasNoAttempt(t *testing.T) {
	srv := rpcStub(t, map[string]any{
		"getLatestBlockhash": rpcError("unavailable"),
	})
	s := newTestSolana(t, srv.URL)

	res := s.Burn(context.Background(), "alpha", 1000)
	require.False(t, res.Success)
	assert.Empty(t, res.Attempt)
}

func TestSolana_Track(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	sig, err := key.Sign([]byte("payload"))
	require.NoError(t, err)
	attempt := formatAttempt(sig, 200)

	tests := []struct {
		name    string
		replies map[string]any
		want    AttemptStatus
		wantRef string
	}{
		{
			name: "confirmed",
			replies: map[string]any{
				"getSignatureStatuses": statuses(map[string]any{
					"slot": 9, "confirmations": 3, "err": nil, "confirmationStatus": "confirmed",
				}),
			},
			want:    AttemptLanded,
			wantRef: sig.String(),
		},
		{
			name: "failed on chain",
			replies: map[string]any{
				"getSignatureStatuses": statuses(map[string]any{
					"slot": 9, "confirmations": nil, "confirmationStatus": "finalized",
					"err": map[string]any{"InstructionError": []any{0, "InvalidAccountData"}},
				}),
			},
			want: AttemptDropped,
		},
		{
			name: "processed only",
			replies: map[string]any{
				"getSignatureStatuses": statuses(map[string]any{
					"slot": 9, "confirmations": 0, "err": nil, "confirmationStatus": "processed",
				}),
			},
			want: AttemptPending,
		},
		{
			name: "unknown and blockhash still valid",
			replies: map[string]any{
				"getSignatureStatuses": statuses(nil),
				"getBlockHeight":       200,
			},
			want: AttemptPending,
		},
		{
			name: "unknown and blockhash expired",
			replies: map[string]any{
				"getSignatureStatuses": statuses(nil),
				"getBlockHeight":       201,
			},
			want: AttemptDropped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSolana(t, rpcStub(t, tt.replies).URL)

			status, ref, err := s.Track(context.Background(), attempt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, status, status.String())
			assert.Equal(t, tt.wantRef, ref)
		})
	}
}

func TestSolana_TrackErrorsStayPending(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	sig, err := key.Sign([]byte("payload"))
	require.NoError(t, err)

	s := newTestSolana(t, rpcStub(t, map[string]any{
		"getSignatureStatuses": rpcError("overloaded"),
	}).URL)
	status, _, err := s.Track(context.Background(), formatAttempt(sig, 10))
	assert.Error(t, err)
	assert.Equal(t, AttemptPending, status)

	_, _, err = s.Track(context.Background(), "no-height")
	assert.ErrorContains(t, err, "malformed attempt")
	_, _, err = s.Track(context.Background(), sig.String()+"@x")
	assert.ErrorContains(t, err, "block height")
}
