package main

import (
	"encoding/json"
	"net/http"
	"time"
)

type AdminGrantRequest struct {
	AccountID string `json:"accountId"`
	Amount    int64  `json:"amount"`
}

type AdminStatusRequest struct {
	AccountID string     `json:"accountId"`
	Status    string     `json:"status"`
	Until     *time.Time `json:"until,omitempty"`
}

type AdminStatusResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error,omitempty"`
	Account *Account `json:"account,omitempty"`
}

type AdminResetResponse struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	AccountsReset int    `json:"accountsReset"`
	Week          string `json:"week,omitempty"`
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !callerIsAdmin(r) {
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	return true
}

func adminGrantHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !requireAdmin(w, r) {
			return
		}

		var req AdminGrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, TransferResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		rec, err := svc.AdminGrant(r.Context(), req.AccountID, req.Amount, time.Now().UTC())
		if err != nil {
			writeJSON(w, TransferResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, TransferResponse{OK: true, Transfer: rec})
	}
}

func adminRevokeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !requireAdmin(w, r) {
			return
		}

		var req AdminGrantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, TransferResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		rec, err := svc.AdminRevoke(r.Context(), req.AccountID, req.Amount, time.Now().UTC())
		if err != nil {
			writeJSON(w, TransferResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, TransferResponse{OK: true, Transfer: rec})
	}
}

func adminStatusHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !requireAdmin(w, r) {
			return
		}

		var req AdminStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, AdminStatusResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		acct, err := svc.SetStatus(r.Context(), req.AccountID, Status(req.Status), req.Until, time.Now().UTC())
		if err != nil {
			writeJSON(w, AdminStatusResponse{OK: false, Error: errorCode(err)})
			return
		}
		writeJSON(w, AdminStatusResponse{OK: true, Account: acct})
	}
}

func adminResetVotesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !requireAdmin(w, r) {
			return
		}

		now := time.Now().UTC()
		count, err := svc.ResetAllVotes(r.Context(), now)
		if err != nil {
			writeJSON(w, AdminResetResponse{OK: false, Error: errorCode(err), AccountsReset: count})
			return
		}
		writeJSON(w, AdminResetResponse{OK: true, AccountsReset: count, Week: weekOf(now)})
	}
}
