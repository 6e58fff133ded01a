package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/merkle"
	"github.com/m0-foundation/solana-m/oracle"
)

const (
	defaultClaimsLimit = 50
	maxClaimsLimit     = 500
	maxBridgeBody      = 1 << 12
	healthTimeout      = 5 * time.Second
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("health check failed", slog.Any("failed", failed))
		respondJSON(w, Response{Success: false, Message: "unhealthy", Data: failed}, http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, Response{Success: true, Message: "OK"}, http.StatusOK)
}

func (s *Server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	g, err := s.ledger.Global(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, newGlobalView(g))
}

func (s *Server) handleEarners(w http.ResponseWriter, r *http.Request) {
	earners, err := s.ledger.Earners(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	views := make([]EarnerView, 0, len(earners))
	for _, e := range earners {
		views = append(views, newEarnerView(e))
	}
	respondData(w, views)
}

func (s *Server) handleEarner(w http.ResponseWriter, r *http.Request) {
	tokenAccount, ok := pathKey(w, r, "tokenAccount")
	if !ok {
		return
	}
	earner, err := s.ledger.Earner(r.Context(), tokenAccount)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, newEarnerView(earner))
}

func (s *Server) handleManager(w http.ResponseWriter, r *http.Request) {
	manager, ok := pathKey(w, r, "manager")
	if !ok {
		return
	}
	m, err := s.ledger.EarnManager(r.Context(), manager)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, newEarnManagerView(m))
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, "claim history is not configured", http.StatusServiceUnavailable)
		return
	}
	raw := r.URL.Query().Get("token_account")
	if raw == "" {
		respondError(w, "token_account parameter required", http.StatusBadRequest)
		return
	}
	tokenAccount, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		respondError(w, fmt.Sprintf("invalid token_account: %v", err), http.StatusBadRequest)
		return
	}

	limit := defaultClaimsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			respondError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxClaimsLimit)
	}

	records, err := s.history.ListByTokenAccount(r.Context(), tokenAccount, limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, records)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	list := chi.URLParam(r, "list")
	tree, ok := s.lists[list]
	if !ok {
		respondError(w, fmt.Sprintf("unknown list %q", list), http.StatusNotFound)
		return
	}
	address, ok := pathKey(w, r, "address")
	if !ok {
		return
	}

	view, err := BuildProof(list, tree, address)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, view)
}

type bridgeIndexRequest struct {
	// Payload is the hex encoded index transfer message.
	Payload string `json:"payload"`
	// Signature is the base58 ed25519 signature of the raw payload bytes by
	// the bridge signer.
	Signature string `json:"signature"`
}

func (s *Server) handleBridgeIndex(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		respondError(w, "bridge ingress is not configured", http.StatusServiceUnavailable)
		return
	}
	var req bridgeIndexRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBridgeBody)).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(req.Payload, "0x"))
	if err != nil {
		respondError(w, fmt.Sprintf("invalid payload hex: %v", err), http.StatusBadRequest)
		return
	}
	sig, err := solana.SignatureFromBase58(req.Signature)
	if err != nil || !sig.Verify(s.bridgeSigner, payload) {
		s.logger.Warn("rejected unsigned bridge payload", slog.String("remote", r.RemoteAddr))
		respondErr(w, fmt.Errorf("bridge payload signature: %w", earn.ErrNotAuthorized))
		return
	}
	update, err := oracle.DecodeIndexTransfer(payload)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.bridge.Propagate(r.Context(), update)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondData(w, PropagationView{
		Opened:       result.Opened,
		RootsUpdated: result.RootsUpdated,
		Global:       newGlobalView(&result.Global),
	})
}

func pathKey(w http.ResponseWriter, r *http.Request, param string) (solana.PublicKey, bool) {
	raw := chi.URLParam(r, param)
	key, err := merkle.ParseValue(raw)
	if err != nil {
		respondError(w, fmt.Sprintf("invalid %s: %v", param, err), http.StatusBadRequest)
		return solana.PublicKey{}, false
	}
	return key, true
}
