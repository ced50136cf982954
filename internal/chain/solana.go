package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

var (
	errNotConfirmed = errors.New("transaction not yet confirmed")
	// errTxFailed marks a transaction the cluster executed and rejected.
	errTxFailed = errors.New("transaction failed")
)

// SolanaConfig configures the SPL token executor.
type SolanaConfig struct {
	RPCURL   string
	Mint     string
	Decimals uint8
	// PrivateKey is the base58 key of the wallet that owns the burn
	// allocation and funds payouts. It also pays fees.
	PrivateKey        string
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
	RequestsPerSecond float64
}

// Solana burns and transfers an SPL token.
type Solana struct {
	client         *rpc.Client
	mint           solana.PublicKey
	decimals       uint8
	signer         solana.PrivateKey
	limiter        *rate.Limiter
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// NewSolana validates cfg and builds an executor. No RPC calls are made.
func NewSolana(cfg SolanaConfig, logger *slog.Logger) (*Solana, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("solana: rpc url is required")
	}
	mint, err := solana.PublicKeyFromBase58(cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("solana: parse mint: %w", err)
	}
	signer, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("solana: parse private key: %w", err)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Solana{
		client:         rpc.New(cfg.RPCURL),
		mint:           mint,
		decimals:       cfg.Decimals,
		signer:         signer,
		limiter:        rate.NewLimiter(limit, 1),
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         logger,
	}, nil
}

// Owner returns the wallet address the executor signs for.
func (s *Solana) Owner() solana.PublicKey {
	return s.signer.PublicKey()
}

// Burn implements Executor using BurnChecked from the owner's associated
// token account.
func (s *Solana) Burn(ctx context.Context, label string, amount uint64) Result {
	owner := s.Owner()
	source, _, err := solana.FindAssociatedTokenAddress(owner, s.mint)
	if err != nil {
		return Failed(fmt.Errorf("burn %s: derive token account: %w", label, err))
	}

	ix, err := token.NewBurnCheckedInstruction(amount, s.decimals, source, s.mint, owner, nil).ValidateAndBuild()
	if err != nil {
		return Failed(fmt.Errorf("burn %s: build instruction: %w", label, err))
	}

	sig, attempt, err := s.send(ctx, ix)
	if err != nil {
		s.logger.Warn("burn failed", "label", label, "amount", amount, "signature", sig, "in_flight", attempt != "", "error", err)
		return Result{Reference: sig, Attempt: attempt, Err: fmt.Errorf("burn %s: %w", label, err)}
	}
	s.logger.Info("burn confirmed", "label", label, "amount", amount, "signature", sig)
	return Succeeded(sig)
}

// Transfer implements Executor using TransferChecked, creating the
// recipient's associated token account in the same transaction when it
// does not exist yet.
func (s *Solana) Transfer(ctx context.Context, recipient string, amount uint64) Result {
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return Failed(fmt.Errorf("transfer: invalid recipient %q: %w", recipient, err))
	}
	owner := s.Owner()

	source, _, err := solana.FindAssociatedTokenAddress(owner, s.mint)
	if err != nil {
		return Failed(fmt.Errorf("transfer: derive source account: %w", err))
	}
	dest, _, err := solana.FindAssociatedTokenAddress(to, s.mint)
	if err != nil {
		return Failed(fmt.Errorf("transfer: derive destination account: %w", err))
	}

	var ixs []solana.Instruction
	exists, err := s.accountExists(ctx, dest)
	if err != nil {
		return Failed(fmt.Errorf("transfer to %s: %w", recipient, err))
	}
	if !exists {
		create, err := associatedtokenaccount.NewCreateInstruction(owner, to, s.mint).ValidateAndBuild()
		if err != nil {
			return Failed(fmt.Errorf("transfer to %s: build account creation: %w", recipient, err))
		}
		ixs = append(ixs, create)
	}

	xfer, err := token.NewTransferCheckedInstruction(amount, s.decimals, source, s.mint, dest, owner, nil).ValidateAndBuild()
	if err != nil {
		return Failed(fmt.Errorf("transfer to %s: build instruction: %w", recipient, err))
	}
	ixs = append(ixs, xfer)

	sig, attempt, err := s.send(ctx, ixs...)
	if err != nil {
		return Result{Reference: sig, Attempt: attempt, Err: fmt.Errorf("transfer to %s: %w", recipient, err)}
	}
	return Succeeded(sig)
}

// Balance implements Executor.
func (s *Solana) Balance(ctx context.Context) (uint64, error) {
	account, _, err := solana.FindAssociatedTokenAddress(s.Owner(), s.mint)
	if err != nil {
		return 0, fmt.Errorf("balance: derive token account: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	out, err := s.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, errors.New("balance: empty response")
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("balance: parse amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

func (s *Solana) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, err
	}
	_, err := s.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get account info: %w", err)
	}
	return true, nil
}

// send signs, submits and waits for confirmation. On failure the signature
// is still returned, and attempt is set unless the transaction is known
// never to land.
func (s *Solana) send(ctx context.Context, ixs ...solana.Instruction) (sig, attempt string, err error) {
	owner := s.Owner()

	if err := s.limiter.Wait(ctx); err != nil {
		return "", "", err
	}
	recent, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", "", fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return "", "", fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &s.signer
		}
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("sign transaction: %w", err)
	}

	// The signature is fixed once signed, so a send whose reply is lost
	// can still be tracked.
	signed := tx.Signatures[0]
	sig = signed.String()
	attempt = formatAttempt(signed, recent.Value.LastValidBlockHeight)

	if err := s.limiter.Wait(ctx); err != nil {
		return sig, "", err
	}
	if _, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	}); err != nil {
		return sig, attempt, fmt.Errorf("send transaction: %w", err)
	}

	if err := s.confirm(ctx, signed); err != nil {
		if errors.Is(err, errTxFailed) {
			return sig, "", err
		}
		return sig, attempt, err
	}
	return sig, "", nil
}

var _ Tracker = (*Solana)(nil)

// Track implements Tracker. An attempt with no known status is dropped once
// the chain has passed the last block height its blockhash was valid for.
func (s *Solana) Track(ctx context.Context, attempt string) (AttemptStatus, string, error) {
	sig, lastValid, err := parseAttempt(attempt)
	if err != nil {
		return AttemptPending, "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return AttemptPending, "", err
	}
	out, err := s.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return AttemptPending, "", fmt.Errorf("track %s: %w", sig, err)
	}
	if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
		st := out.Value[0]
		switch {
		case st.Err != nil:
			return AttemptDropped, "", nil
		case st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed,
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
			return AttemptLanded, sig.String(), nil
		}
		return AttemptPending, "", nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return AttemptPending, "", err
	}
	height, err := s.client.GetBlockHeight(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return AttemptPending, "", fmt.Errorf("track %s: block height: %w", sig, err)
	}
	if height > lastValid {
		return AttemptDropped, "", nil
	}
	return AttemptPending, "", nil
}

// formatAttempt encodes a signature with its blockhash expiry height.
func formatAttempt(sig solana.Signature, lastValid uint64) string {
	return sig.String() + "@" + strconv.FormatUint(lastValid, 10)
}

func parseAttempt(attempt string) (solana.Signature, uint64, error) {
	sigText, heightText, ok := strings.Cut(attempt, "@")
	if !ok {
		return solana.Signature{}, 0, fmt.Errorf("track: malformed attempt %q", attempt)
	}
	sig, err := solana.SignatureFromBase58(sigText)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("track: signature: %w", err)
	}
	lastValid, err := strconv.ParseUint(heightText, 10, 64)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("track: block height: %w", err)
	}
	return sig, lastValid, nil
}

func (s *Solana) confirm(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	b := backoff.WithContext(backoff.NewConstantBackOff(s.pollInterval), ctx)
	err := backoff.Retry(func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return errNotConfirmed
		}
		st := out.Value[0]
		if st.Err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %s: %v", errTxFailed, sig, st.Err))
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		}
		return errNotConfirmed
	}, b)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", sig, err)
	}
	return nil
}
