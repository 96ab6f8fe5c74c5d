package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cryptodevs/daoengine/pkg/contracts"
	"github.com/cryptodevs/daoengine/pkg/dao"
	"github.com/cryptodevs/daoengine/pkg/finance"
)

// Service exposes the engine over HTTP. All mutating endpoints require a
// bearer token; the token subject is the caller address.
type Service struct {
	engine *dao.Engine
	logger *slog.Logger
}

// NewService creates the HTTP service.
func NewService(engine *dao.Engine) *Service {
	return &Service{
		engine: engine,
		logger: slog.Default().With("component", "api"),
	}
}

// Routes registers all endpoints on the mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/readiness", s.HandleHealth)
	mux.HandleFunc("/api/v1/proposals", s.HandleProposals)
	mux.HandleFunc("/api/v1/proposals/count", s.HandleCount)
	mux.HandleFunc("/api/v1/proposals/", s.HandleProposalByID)
	mux.HandleFunc("/api/v1/treasury", s.HandleTreasury)
	mux.HandleFunc("/api/v1/treasury/deposits", s.HandleDeposit)
	mux.HandleFunc("/api/v1/treasury/withdrawals", s.HandleWithdraw)
	mux.HandleFunc("/api/v1/audit", s.HandleAudit)
}

// proposalView is the wire form of a proposal; the voter set goes out as a
// sorted list.
type proposalView struct {
	ID        contracts.ProposalID `json:"id"`
	AssetID   contracts.AssetID    `json:"asset_id"`
	Proposer  contracts.Address    `json:"proposer"`
	Deadline  string               `json:"deadline"`
	CreatedAt string               `json:"created_at"`
	YayVotes  uint64               `json:"yay_votes"`
	NayVotes  uint64               `json:"nay_votes"`
	Executed  bool                 `json:"executed"`
	Voters    []contracts.TokenID  `json:"voters"`
}

func viewOf(p *contracts.Proposal) proposalView {
	return proposalView{
		ID:        p.ID,
		AssetID:   p.AssetID,
		Proposer:  p.Proposer,
		Deadline:  p.Deadline.UTC().Format(time.RFC3339Nano),
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		YayVotes:  p.YayVotes,
		NayVotes:  p.NayVotes,
		Executed:  p.Executed,
		Voters:    p.VoterList(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleHealth handles the /health endpoint.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateProposalRequest asks the engine to open a vote on one asset.
type CreateProposalRequest struct {
	AssetID uint64 `json:"asset_id"`
}

// HandleProposals handles POST (create) and GET (list) on /api/v1/proposals.
func (s *Service) HandleProposals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		caller, ok := CallerFrom(r.Context())
		if !ok {
			WriteUnauthorized(w, "")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
		var req CreateProposalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}

		id, err := s.engine.CreateProposal(r.Context(), caller, contracts.AssetID(req.AssetID))
		if err != nil {
			WriteEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]uint64{"proposal_id": uint64(id)})

	case http.MethodGet:
		proposals, err := s.engine.ListProposals(r.Context())
		if err != nil {
			WriteInternal(w, err)
			return
		}
		views := make([]proposalView, 0, len(proposals))
		for _, p := range proposals {
			views = append(views, viewOf(p))
		}
		writeJSON(w, http.StatusOK, views)

	default:
		WriteMethodNotAllowed(w)
	}
}

// HandleCount handles GET /api/v1/proposals/count.
func (s *Service) HandleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	n, err := s.engine.Count(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": n})
}

// VoteRequest casts one token's vote.
type VoteRequest struct {
	TokenID uint64 `json:"token_id"`
	Choice  string `json:"choice"` // "YAY" | "NAY"
}

// HandleProposalByID dispatches /api/v1/proposals/{id}[/votes|/execute].
func (s *Service) HandleProposalByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/proposals/")
	idStr, action, _ := strings.Cut(rest, "/")
	id64, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		WriteBadRequest(w, "Invalid proposal id")
		return
	}
	id := contracts.ProposalID(id64)

	switch action {
	case "":
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		p, err := s.engine.GetProposal(r.Context(), id)
		if err != nil {
			WriteEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(p))

	case "votes":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		caller, ok := CallerFrom(r.Context())
		if !ok {
			WriteUnauthorized(w, "")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
		var req VoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteBadRequest(w, "Invalid request body")
			return
		}
		choice, err := contracts.ParseVoteChoice(req.Choice)
		if err != nil {
			WriteBadRequest(w, err.Error())
			return
		}

		if err := s.engine.Vote(r.Context(), id, caller, contracts.TokenID(req.TokenID), choice); err != nil {
			WriteEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "execute":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		if _, ok := CallerFrom(r.Context()); !ok {
			WriteUnauthorized(w, "")
			return
		}

		result, err := s.engine.Execute(r.Context(), id)
		if err != nil {
			WriteEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		WriteNotFound(w, "Unknown proposal action")
	}
}

// HandleTreasury handles GET /api/v1/treasury.
func (s *Service) HandleTreasury(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	balance, err := s.engine.Balance(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// AmountRequest carries a treasury movement in minor units.
type AmountRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

// HandleDeposit handles POST /api/v1/treasury/deposits.
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := CallerFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	req, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	balance, err := s.engine.Deposit(r.Context(), caller, finance.NewMoney(req.AmountMinor, req.Currency))
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// HandleWithdraw handles POST /api/v1/treasury/withdrawals.
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	caller, ok := CallerFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	req, ok := s.decodeAmount(w, r)
	if !ok {
		return
	}
	balance, err := s.engine.Withdraw(r.Context(), caller, finance.NewMoney(req.AmountMinor, req.Currency))
	if err != nil {
		WriteEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Service) decodeAmount(w http.ResponseWriter, r *http.Request) (AmountRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return req, false
	}
	if req.AmountMinor <= 0 {
		WriteBadRequest(w, "amount_minor must be positive")
		return req, false
	}
	if req.Currency != s.engine.Currency() {
		WriteBadRequest(w, fmt.Sprintf("currency must be %s", s.engine.Currency()))
		return req, false
	}
	return req, true
}

// HandleAudit handles GET /api/v1/audit: the full audit trail plus a chain
// verification verdict.
func (s *Service) HandleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	log := s.engine.AuditLog()
	if log == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}, "chain_valid": true})
		return
	}
	valid, verr := log.VerifyChain()
	resp := map[string]any{
		"entries":     log.Entries(),
		"chain_valid": valid,
	}
	if verr != nil {
		resp["chain_error"] = verr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
