package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ludoarena/backend/internal/auth"
	"github.com/ludoarena/backend/internal/hub"
	"github.com/ludoarena/backend/internal/queue"
	"github.com/ludoarena/backend/internal/wallet"
	"github.com/ludoarena/backend/internal/ws"
)

func SetupRoutes(verifier auth.Verifier, h *hub.Hub, q *queue.Queue, ledger wallet.Ledger, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/balance", Balance(verifier, ledger))
	r.Get("/ws", ws.Handler(verifier, h, q, log))
	return r
}
