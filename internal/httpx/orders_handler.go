package httpx

import (
	"log"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
)

type OrdersHandler struct {
	Orders *orders.Service
	Funds  *funds.Service
	Cache  StatusCache
}

type createFromGigReq struct {
	GigID  string `json:"gig_id"`
	TierID string `json:"tier_id"`
}

type createFromProposalReq struct {
	ProposalID string `json:"proposal_id"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

type rejectDeliveryReq struct {
	Reason         string `json:"reason"`
	RedeliveryDays int    `json:"redelivery_days"`
}

type statusReq struct {
	Status orders.Status `json:"status"`
}

type extensionReq struct {
	Reason string `json:"reason"`
	Days   int    `json:"extension_days"`
}

type respondReq struct {
	Approved bool `json:"approved"`
}

type daysReq struct {
	Days int `json:"days"`
}

type paymentReq struct {
	Method  funds.Method      `json:"method"`
	Details map[string]string `json:"details"`
}

type verifyReq struct {
	OTP string `json:"otp"`
}

func (h *OrdersHandler) Register(r chi.Router, lim *Limiter) {
	r.Post("/orders/gig", h.createFromGig)
	r.Post("/orders/proposal", h.createFromProposal)
	r.Get("/orders", h.list)

	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/status", h.status)
		r.Post("/accept", h.accept)
		r.Post("/reject", h.reject)
		r.Post("/deliver", h.deliver)
		r.Post("/delivery/accept", h.acceptDelivery)
		r.Post("/delivery/reject", h.rejectDelivery)
		r.Patch("/status", h.updateStatus)
		r.Post("/cancel", h.cancel)
		r.Post("/extensions", h.requestExtension)
		r.Post("/extensions/{extID}/respond", h.respondExtension)
		r.Post("/payment-deadline", h.extendDeadline)
		r.With(lim.PerUser).Post("/payment", h.requestPayment)
	})
	r.Post("/payments/{intentID}/verify", h.verifyPayment)
}

func (h *OrdersHandler) createFromGig(w http.ResponseWriter, r *http.Request) {
	var req createFromGigReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.GigID == "" {
		writeError(w, r, apperr.Validation("gig_id is required"))
		return
	}
	o, err := h.Orders.CreateFromGig(r.Context(), caller(r), req.GigID, req.TierID)
	respond(w, r, http.StatusCreated, o, err)
}

func (h *OrdersHandler) createFromProposal(w http.ResponseWriter, r *http.Request) {
	var req createFromProposalReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.ProposalID == "" {
		writeError(w, r, apperr.Validation("proposal_id is required"))
		return
	}
	o, err := h.Orders.CreateFromProposal(r.Context(), caller(r), req.ProposalID)
	respond(w, r, http.StatusCreated, o, err)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	party := orders.Party(r.URL.Query().Get("as"))
	if party == "" {
		party = orders.PartyBuyer
	}
	if party != orders.PartyBuyer && party != orders.PartySeller {
		writeError(w, r, apperr.Validation("as must be buyer or seller"))
		return
	}
	list, err := h.Orders.List(r.Context(), caller(r), party)
	respond(w, r, http.StatusOK, list, err)
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, o, err)
}

// status answers from the cache and falls back to the store, refilling
// the cache on the way out.
func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	uid := caller(r)

	if h.Cache != nil {
		e, ok, err := h.Cache.Get(ctx, id)
		if err != nil {
			log.Printf("status cache get order=%s: %v", id, err)
		}
		if ok {
			if uid != e.BuyerID && uid != e.SellerID {
				writeError(w, r, apperr.Forbidden("not a party to order %s", id))
				return
			}
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	o, err := h.Orders.Get(ctx, uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		h.Cache.SetStatus(ctx, o)
	}
	writeJSON(w, http.StatusOK, redisx.EntryOf(o))
}

func (h *OrdersHandler) accept(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.AcceptOrder(r.Context(), caller(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) reject(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.RejectOrder(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) deliver(w http.ResponseWriter, r *http.Request) {
	var req orders.DeliveryInput
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.DeliverOrder(r.Context(), caller(r), chi.URLParam(r, "id"), req)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) acceptDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.AcceptDelivery(r.Context(), caller(r), chi.URLParam(r, "id"))
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) rejectDelivery(w http.ResponseWriter, r *http.Request) {
	var req rejectDeliveryReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.RejectDelivery(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason, req.RedeliveryDays)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), caller(r), chi.URLParam(r, "id"), req.Status)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.CancelOrder(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) requestExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	_, ext, err := h.Orders.RequestExtension(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason, req.Days)
	respond(w, r, http.StatusCreated, ext, err)
}

func (h *OrdersHandler) respondExtension(w http.ResponseWriter, r *http.Request) {
	var req respondReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.RespondToExtension(r.Context(), caller(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "extID"), req.Approved)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) extendDeadline(w http.ResponseWriter, r *http.Request) {
	var req daysReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.ExtendPaymentDeadline(r.Context(), caller(r), chi.URLParam(r, "id"), req.Days)
	respond(w, r, http.StatusOK, o, err)
}

func (h *OrdersHandler) requestPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := h.Funds.RequestPayment(r.Context(), caller(r), chi.URLParam(r, "id"), req.Method, req.Details)
	respond(w, r, http.StatusAccepted, in, err)
}

func (h *OrdersHandler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Funds.VerifyPayment(r.Context(), caller(r), chi.URLParam(r, "intentID"), req.OTP)
	respond(w, r, http.StatusOK, res, err)
}

func respond(w http.ResponseWriter, r *http.Request, code int, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, code, v)
}
