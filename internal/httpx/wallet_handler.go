package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/go-chi/chi/v5"
)

type WalletHandler struct {
	Funds *funds.Service
}

type intentReq struct {
	Amount  int64             `json:"amount"`
	Method  funds.Method      `json:"method"`
	Details map[string]string `json:"details"`
}

func (h *WalletHandler) Register(r chi.Router, lim *Limiter) {
	r.Get("/wallet", h.wallet)
	r.With(lim.PerUser).Post("/wallet/deposits", h.requestDeposit)
	r.Post("/wallet/deposits/{intentID}/verify", h.verifyDeposit)
	r.With(lim.PerUser).Post("/wallet/withdrawals", h.requestWithdrawal)
	r.Post("/wallet/withdrawals/{intentID}/verify", h.verifyWithdrawal)
	r.Get("/intents/{intentID}", h.intent)
}

func (h *WalletHandler) wallet(w http.ResponseWriter, r *http.Request) {
	wal, err := h.Funds.Wallet(r.Context(), caller(r))
	respond(w, r, http.StatusOK, wal, err)
}

func (h *WalletHandler) requestDeposit(w http.ResponseWriter, r *http.Request) {
	var req intentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.Funds.RequestDeposit(r.Context(), caller(r), req.Amount, req.Method, req.Details)
	respond(w, r, http.StatusAccepted, in, err)
}

func (h *WalletHandler) verifyDeposit(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Funds.VerifyDeposit(r.Context(), caller(r), chi.URLParam(r, "intentID"), req.OTP)
	respond(w, r, http.StatusOK, res, err)
}

func (h *WalletHandler) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req intentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.Funds.RequestWithdrawal(r.Context(), caller(r), req.Amount, req.Method, req.Details)
	respond(w, r, http.StatusAccepted, in, err)
}

func (h *WalletHandler) verifyWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Funds.VerifyWithdrawal(r.Context(), caller(r), chi.URLParam(r, "intentID"), req.OTP)
	respond(w, r, http.StatusOK, res, err)
}

func (h *WalletHandler) intent(w http.ResponseWriter, r *http.Request) {
	in, err := h.Funds.GetIntent(r.Context(), caller(r), chi.URLParam(r, "intentID"))
	respond(w, r, http.StatusOK, in, err)
}
