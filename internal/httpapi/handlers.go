package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ludoarena/backend/internal/auth"
	"github.com/ludoarena/backend/internal/wallet"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Balance reports the caller's free funds. Anonymous callers have no
// account, so the endpoint requires a token.
func Balance(verifier auth.Verifier, ledger wallet.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := verifier.Verify(bearerToken(r))
		if err != nil || identity.UserID == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		balance, err := ledger.Balance(r.Context(), identity.UserID)
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			UserID  string `json:"user_id"`
			Balance int64  `json:"balance"`
		}{UserID: identity.UserID, Balance: balance})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("token")
}
