package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type RegisterRequest struct {
	AccountID  string `json:"accountId"`
	ReferredBy string `json:"referredBy,omitempty"`
}

type RegisterResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Account *Account `json:"account,omitempty"`
}

type VoteRequest struct {
	TargetID string `json:"targetId"`
}

type VoteResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Week  string `json:"week,omitempty"`
	// Numeric fields stay present at zero: "votesRemaining":0 is exactly
	// what the client renders "no votes left" from.
	VotesRemaining int   `json:"votesRemaining"`
	TargetVotes    int64 `json:"targetVotes"`
	RewardGranted  int64 `json:"rewardGranted"`
}

type GiftRequest struct {
	ToID   string `json:"toId"`
	Amount int64  `json:"amount"`
}

type TransferResponse struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Transfer *TransferRecord `json:"transfer,omitempty"`
}

type PlaceBountyRequest struct {
	TargetID string `json:"targetId"`
	Stake    int64  `json:"stake"`
}

type ClaimBountyRequest struct {
	BountyID string `json:"bountyId"`
	Amount   int64  `json:"amount"`
}

type BountyResponse struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Bounty *Bounty `json:"bounty,omitempty"`
}

type AccountResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Account *Account `json:"account,omitempty"`
}

type TransfersResponse struct {
	OK        bool             `json:"ok"`
	Error     string           `json:"error,omitempty"`
	Transfers []TransferRecord `json:"transfers,omitempty"`
}

type LeaderboardResponse struct {
	OK      bool               `json:"ok"`
	Error   string             `json:"error,omitempty"`
	Entries []LeaderboardEntry `json:"entries,omitempty"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

// callerAccount reads the authenticated account from the request. Session
// management is handled upstream; the proxy injects the identity headers.
func callerAccount(r *http.Request) string {
	return r.Header.Get("X-Auth-Account")
}

func callerIsAdmin(r *http.Request) bool {
	return r.Header.Get("X-Auth-Role") == "admin"
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func registerHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, RegisterResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		var referredBy *string
		if req.ReferredBy != "" {
			referredBy = &req.ReferredBy
		}

		acct, err := svc.Register(r.Context(), req.AccountID, referredBy, time.Now().UTC())
		if err != nil {
			writeJSON(w, RegisterResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, RegisterResponse{OK: true, Account: acct})
	}
}

func voteHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		voterID := callerAccount(r)
		if !isValidAccountID(voterID) {
			writeJSON(w, VoteResponse{OK: false, Error: "INVALID_ACCOUNT_ID"})
			return
		}

		var req VoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, VoteResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		res, err := svc.CastVote(r.Context(), voterID, req.TargetID, time.Now().UTC())
		if err != nil {
			writeJSON(w, VoteResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, VoteResponse{
			OK:             true,
			Week:           res.Week,
			VotesRemaining: res.VotesRemaining,
			TargetVotes:    res.TargetVotes,
			RewardGranted:  res.RewardGranted,
		})
	}
}

func giftHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		fromID := callerAccount(r)
		if !isValidAccountID(fromID) {
			writeJSON(w, TransferResponse{OK: false, Error: "INVALID_ACCOUNT_ID"})
			return
		}

		var req GiftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, TransferResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		rec, err := svc.Gift(r.Context(), fromID, req.ToID, req.Amount, time.Now().UTC())
		if err != nil {
			writeJSON(w, TransferResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, TransferResponse{OK: true, Transfer: rec})
	}
}

func placeBountyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		placerID := callerAccount(r)
		if !isValidAccountID(placerID) {
			writeJSON(w, BountyResponse{OK: false, Error: "INVALID_ACCOUNT_ID"})
			return
		}

		var req PlaceBountyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, BountyResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		bounty, err := svc.PlaceBounty(r.Context(), placerID, req.TargetID, req.Stake, time.Now().UTC())
		if err != nil {
			writeJSON(w, BountyResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, BountyResponse{OK: true, Bounty: bounty})
	}
}

func claimBountyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		claimantID := callerAccount(r)
		if !isValidAccountID(claimantID) {
			writeJSON(w, BountyResponse{OK: false, Error: "INVALID_ACCOUNT_ID"})
			return
		}

		var req ClaimBountyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, BountyResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		bounty, err := svc.ClaimBounty(r.Context(), claimantID, req.BountyID, req.Amount, time.Now().UTC())
		if err != nil {
			writeJSON(w, BountyResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, BountyResponse{OK: true, Bounty: bounty})
	}
}

func getBountyHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bountyID := r.URL.Query().Get("bountyId")
		if bountyID == "" {
			writeJSON(w, BountyResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		bounty, err := svc.GetBounty(r.Context(), bountyID, time.Now().UTC())
		if err != nil {
			writeJSON(w, BountyResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, BountyResponse{OK: true, Bounty: bounty})
	}
}

func accountHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("accountId")
		if !isValidAccountID(id) {
			writeJSON(w, AccountResponse{OK: false, Error: "INVALID_ACCOUNT_ID"})
			return
		}

		acct, err := svc.GetAccount(r.Context(), id)
		if err != nil {
			writeJSON(w, AccountResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, AccountResponse{OK: true, Account: acct})
	}
}

func transfersHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("accountId")
		if accountID != "" && !isValidAccountID(accountID) {
			writeJSON(w, TransfersResponse{OK: false, Error: "INVALID_ACCOUNT_ID"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		recs, err := svc.Transfers(r.Context(), accountID, limit)
		if err != nil {
			writeJSON(w, TransfersResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, TransfersResponse{OK: true, Transfers: recs})
	}
}

func leaderboardHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		entries, err := svc.Leaderboard(r.Context(), limit)
		if err != nil {
			writeJSON(w, LeaderboardResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, LeaderboardResponse{OK: true, Entries: entries})
	}
}
