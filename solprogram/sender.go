package solprogram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/logger"
)

// UnconfirmedError reports a sent transaction that was not seen confirmed. It
// matches earn.ErrUnconfirmed and whatever stopped the wait.
type UnconfirmedError struct {
	Signature solana.Signature
	Err       error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("transaction %s not confirmed: %v", e.Signature, e.Err)
}

func (e *UnconfirmedError) Unwrap() []error {
	return []error{earn.ErrUnconfirmed, e.Err}
}

// RPC is the subset of the Solana RPC client used to land transactions.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransaction(ctx context.Context, transaction *solana.Transaction) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Sender signs, sends and confirms transactions.
type Sender struct {
	rpc            RPC
	network        string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

type SenderConfig struct {
	Network        string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

func NewSender(client RPC, cfg SenderConfig) *Sender {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Sender{
		rpc:            client,
		network:        cfg.Network,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		logger:         logger.OrDiscard(cfg.Logger),
	}
}

// Send builds a transaction paid by payer, signs it with payer and any extra
// signers, sends it and waits until it is confirmed. A program error is
// returned decoded, see DecodeError. A transaction that was sent but not seen
// confirmed returns a pending result and an *UnconfirmedError.
func (s *Sender) Send(ctx context.Context, instructions []solana.Instruction, payer solana.PrivateKey, signers ...solana.PrivateKey) (*TransactionResult, error) {
	latestBlockhash, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		instructions,
		latestBlockhash.Value.Blockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	keys := append([]solana.PrivateKey{payer}, signers...)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		if logs := ExtractLogMessages(err); len(logs) > 0 {
			s.logger.Debug("transaction rejected", "logs", logs)
		}
		return nil, DecodeError(fmt.Errorf("failed to send transaction: %w", err))
	}
	s.logger.Debug("transaction sent", "signature", sig, "instructions", len(instructions))

	result := &TransactionResult{
		Signature:   sig.String(),
		Status:      StatusPending,
		ExplorerURL: ExplorerURL(s.network, sig),
	}
	status, err := s.WaitForConfirmation(ctx, sig)
	if errors.Is(err, earn.ErrUnconfirmed) {
		s.logger.Warn("transaction not confirmed", "signature", sig, "explorer", result.ExplorerURL)
		return result, err
	}
	if err != nil {
		msg := ParseSolanaError(err)
		result.Status = StatusFailed
		result.Error = &msg
		return result, DecodeError(err)
	}
	result.Status = status
	return result, nil
}

// WaitForConfirmation polls the signature status until the transaction is
// confirmed or finalized, fails, or the wait ends. An ended wait returns an
// *UnconfirmedError.
func (s *Sender) WaitForConfirmation(ctx context.Context, sig solana.Signature) (TransactionStatus, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && status != nil && len(status.Value) > 0 && status.Value[0] != nil {
			txStatus := status.Value[0]
			if txStatus.Err != nil {
				return StatusFailed, fmt.Errorf("transaction failed: %v", txStatus.Err)
			}
			switch txStatus.ConfirmationStatus {
			case rpc.ConfirmationStatusFinalized:
				return StatusFinalized, nil
			case rpc.ConfirmationStatusConfirmed:
				return StatusConfirmed, nil
			}
		}

		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return StatusPending, &UnconfirmedError{Signature: sig, Err: err}
			}
			return StatusPending, &UnconfirmedError{
				Signature: sig,
				Err:       fmt.Errorf("timed out after %s", s.confirmTimeout),
			}
		case <-ticker.C:
		}
	}
}
