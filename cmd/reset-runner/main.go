// reset-runner triggers the weekly vote reset over HTTP. Meant for cron or
// a one-off operator invocation when the in-process scheduler is disabled
// (WEEKLY_RESET_ENABLED=false).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

type resetResponse struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	AccountsReset int    `json:"accountsReset"`
	Week          string `json:"week,omitempty"`
}

func main() {
	baseURL := os.Getenv("VOTEBANK_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	adminAccount := os.Getenv("VOTEBANK_ADMIN_ACCOUNT")
	if adminAccount == "" {
		fmt.Fprintln(os.Stderr, "VOTEBANK_ADMIN_ACCOUNT is not set")
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Minute}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/admin/reset-votes", bytes.NewReader(nil))
	if err != nil {
		fmt.Fprintln(os.Stderr, "build request:", err)
		os.Exit(1)
	}
	req.Header.Set("X-Auth-Account", adminAccount)
	req.Header.Set("X-Auth-Role", "admin")

	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reset request failed:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(os.Stderr, "unexpected status:", resp.Status)
		os.Exit(1)
	}

	var out resetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintln(os.Stderr, "decode response:", err)
		os.Exit(1)
	}
	if !out.OK {
		fmt.Fprintln(os.Stderr, "reset failed:", out.Error)
		os.Exit(1)
	}
	fmt.Printf("reset complete: accounts=%d week=%s\n", out.AccountsReset, out.Week)
}
