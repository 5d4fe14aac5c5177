// Package handler exposes the registry over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"prefixd/internal/registry/models"
	"prefixd/internal/registry/service"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/httputil"
	"prefixd/pkg/requestcontext"
)

// Service is the registry surface the handler drives.
type Service interface {
	Initialize(ctx context.Context, admin id.Principal, fee uint64) (*models.RegistryConfig, error)
	UpdateFee(ctx context.Context, fee uint64) (*models.RegistryConfig, error)
	SetPause(ctx context.Context, paused bool) (*models.RegistryConfig, error)
	AddVerifier(ctx context.Context, verifier id.Principal) (*models.VerifierDirectory, error)
	RemoveVerifier(ctx context.Context, verifier id.Principal) (*models.VerifierDirectory, error)
	WithdrawTreasury(ctx context.Context, amount uint64, to id.Principal) (*models.Treasury, error)
	CreditAccount(ctx context.Context, principal id.Principal, amount uint64) (*models.Account, error)

	SubmitPrefix(ctx context.Context, cmd service.SubmitCommand) (*models.Prefix, error)
	ApprovePrefix(ctx context.Context, key string, ref id.Hash) (*models.Prefix, error)
	RejectPrefix(ctx context.Context, key, reason string) (*models.Prefix, error)
	RefundPrefixFee(ctx context.Context, key string) (*models.Treasury, error)
	UpdatePrefixMetadata(ctx context.Context, cmd service.UpdateMetadataCommand) (*models.Prefix, error)
	UpdatePrefixAuthority(ctx context.Context, key string, keys []id.Principal) (*models.Prefix, error)
	DeactivatePrefix(ctx context.Context, key string) (*models.Prefix, error)
	ReactivatePrefix(ctx context.Context, key string) (*models.Prefix, error)
	RecoverPrefixOwner(ctx context.Context, key string, newOwner id.Principal) (*models.Prefix, error)

	GetPrefix(ctx context.Context, key string) (*models.Prefix, error)
	ListPrefixes(ctx context.Context, filter store.PrefixFilter) ([]*models.Prefix, error)
	GetConfig(ctx context.Context) (*models.RegistryConfig, error)
	ListVerifiers(ctx context.Context) (*models.VerifierDirectory, error)
	GetTreasury(ctx context.Context) (*models.Treasury, error)
	GetAccount(ctx context.Context, p id.Principal) (*models.Account, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the read routes behind public and every mutation behind
// requireSigner.
func (h *Handler) Register(r chi.Router, requireSigner func(http.Handler) http.Handler, public ...func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(public...)

		r.Get("/registry", h.HandleGetConfig)
		r.Get("/registry/verifiers", h.HandleListVerifiers)
		r.Get("/treasury", h.HandleGetTreasury)
		r.Get("/accounts/{principal}", h.HandleGetAccount)
		r.Get("/prefixes", h.HandleListPrefixes)
		r.Get("/prefixes/{prefix}", h.HandleGetPrefix)
	})

	r.Group(func(r chi.Router) {
		r.Use(requireSigner)

		r.Post("/registry/initialize", h.HandleInitialize)
		r.Put("/registry/fee", h.HandleUpdateFee)
		r.Put("/registry/pause", h.HandleSetPause)
		r.Post("/registry/verifiers", h.HandleAddVerifier)
		r.Delete("/registry/verifiers/{principal}", h.HandleRemoveVerifier)
		r.Post("/treasury/withdraw", h.HandleWithdraw)
		r.Post("/accounts/{principal}/credit", h.HandleCredit)

		r.Post("/prefixes", h.HandleSubmit)
		r.Post("/prefixes/{prefix}/approve", h.HandleApprove)
		r.Post("/prefixes/{prefix}/reject", h.HandleReject)
		r.Post("/prefixes/{prefix}/refund", h.HandleRefund)
		r.Post("/prefixes/{prefix}/deactivate", h.HandleDeactivate)
		r.Post("/prefixes/{prefix}/reactivate", h.HandleReactivate)
		r.Post("/prefixes/{prefix}/recover", h.HandleRecover)
		r.Put("/prefixes/{prefix}/metadata", h.HandleUpdateMetadata)
		r.Put("/prefixes/{prefix}/authority", h.HandleUpdateAuthority)
	})
}

// respond writes v or the mapped error. op names the operation in failure logs.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string, status int, v any, err error) {
	if err != nil {
		ctx := r.Context()
		level := slog.LevelInfo
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "registry request failed",
			"operation", op,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, status, v)
}

func decode[T any, PT interface {
	*T
	httputil.Validatable
}](h *Handler, w http.ResponseWriter, r *http.Request) (PT, bool) {
	ctx := r.Context()
	return httputil.DecodeAndPrepare[T, PT](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
}

func principalParam(w http.ResponseWriter, r *http.Request) (id.Principal, bool) {
	p, err := id.ParsePrincipal(chi.URLParam(r, "principal"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid principal"))
		return id.Principal{}, false
	}
	return p, true
}

// -----------------------------------------------------------------------------
// Admin control plane
// -----------------------------------------------------------------------------

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[InitializeRequest](h, w, r)
	if !ok {
		return
	}
	cfg, err := h.service.Initialize(r.Context(), req.Admin, req.Fee)
	if err != nil {
		h.respond(w, r, "initialize", 0, nil, err)
		return
	}
	h.respond(w, r, "initialize", http.StatusCreated, FromConfig(cfg), nil)
}

func (h *Handler) HandleUpdateFee(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[UpdateFeeRequest](h, w, r)
	if !ok {
		return
	}
	cfg, err := h.service.UpdateFee(r.Context(), req.Fee)
	h.respondConfig(w, r, "update_fee", cfg, err)
}

func (h *Handler) HandleSetPause(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[SetPauseRequest](h, w, r)
	if !ok {
		return
	}
	cfg, err := h.service.SetPause(r.Context(), *req.Paused)
	h.respondConfig(w, r, "set_pause", cfg, err)
}

func (h *Handler) respondConfig(w http.ResponseWriter, r *http.Request, op string, cfg *models.RegistryConfig, err error) {
	if err != nil {
		h.respond(w, r, op, 0, nil, err)
		return
	}
	h.respond(w, r, op, http.StatusOK, FromConfig(cfg), nil)
}

func (h *Handler) HandleAddVerifier(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[VerifierRequest](h, w, r)
	if !ok {
		return
	}
	dir, err := h.service.AddVerifier(r.Context(), req.Verifier)
	h.respondDirectory(w, r, "add_verifier", dir, err)
}

func (h *Handler) HandleRemoveVerifier(w http.ResponseWriter, r *http.Request) {
	p, ok := principalParam(w, r)
	if !ok {
		return
	}
	dir, err := h.service.RemoveVerifier(r.Context(), p)
	h.respondDirectory(w, r, "remove_verifier", dir, err)
}

func (h *Handler) respondDirectory(w http.ResponseWriter, r *http.Request, op string, dir *models.VerifierDirectory, err error) {
	if err != nil {
		h.respond(w, r, op, 0, nil, err)
		return
	}
	h.respond(w, r, op, http.StatusOK, FromDirectory(dir), nil)
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[WithdrawRequest](h, w, r)
	if !ok {
		return
	}
	t, err := h.service.WithdrawTreasury(r.Context(), req.Amount, req.To)
	h.respondTreasury(w, r, "withdraw_treasury", t, err)
}

func (h *Handler) respondTreasury(w http.ResponseWriter, r *http.Request, op string, t *models.Treasury, err error) {
	if err != nil {
		h.respond(w, r, op, 0, nil, err)
		return
	}
	h.respond(w, r, op, http.StatusOK, &TreasuryResponse{Balance: t.Balance}, nil)
}

func (h *Handler) HandleCredit(w http.ResponseWriter, r *http.Request) {
	p, ok := principalParam(w, r)
	if !ok {
		return
	}
	req, ok := decode[CreditRequest](h, w, r)
	if !ok {
		return
	}
	acct, err := h.service.CreditAccount(r.Context(), p, req.Amount)
	if err != nil {
		h.respond(w, r, "credit_account", 0, nil, err)
		return
	}
	h.respond(w, r, "credit_account", http.StatusOK, &AccountResponse{Principal: acct.Principal, Balance: acct.Balance}, nil)
}

// -----------------------------------------------------------------------------
// Prefix lifecycle
// -----------------------------------------------------------------------------

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[SubmitRequest](h, w, r)
	if !ok {
		return
	}
	p, err := h.service.SubmitPrefix(r.Context(), service.SubmitCommand{
		Prefix:        req.Prefix,
		MetadataURI:   req.MetadataURI,
		MetadataHash:  req.hash,
		AuthorityKeys: req.AuthorityKeys,
		Attestations:  req.Attestations,
	})
	if err != nil {
		h.respond(w, r, "submit_prefix", 0, nil, err)
		return
	}
	h.respond(w, r, "submit_prefix", http.StatusCreated, FromPrefix(p), nil)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[ApproveRequest](h, w, r)
	if !ok {
		return
	}
	p, err := h.service.ApprovePrefix(r.Context(), chi.URLParam(r, "prefix"), req.RefHash)
	h.respondPrefix(w, r, "approve_prefix", p, err)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RejectRequest](h, w, r)
	if !ok {
		return
	}
	p, err := h.service.RejectPrefix(r.Context(), chi.URLParam(r, "prefix"), req.Reason)
	h.respondPrefix(w, r, "reject_prefix", p, err)
}

func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	if _, ok := decode[emptyRequest](h, w, r); !ok {
		return
	}
	t, err := h.service.RefundPrefixFee(r.Context(), chi.URLParam(r, "prefix"))
	h.respondTreasury(w, r, "refund_prefix_fee", t, err)
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	if _, ok := decode[emptyRequest](h, w, r); !ok {
		return
	}
	p, err := h.service.DeactivatePrefix(r.Context(), chi.URLParam(r, "prefix"))
	h.respondPrefix(w, r, "deactivate_prefix", p, err)
}

func (h *Handler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	if _, ok := decode[emptyRequest](h, w, r); !ok {
		return
	}
	p, err := h.service.ReactivatePrefix(r.Context(), chi.URLParam(r, "prefix"))
	h.respondPrefix(w, r, "reactivate_prefix", p, err)
}

func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[RecoverRequest](h, w, r)
	if !ok {
		return
	}
	p, err := h.service.RecoverPrefixOwner(r.Context(), chi.URLParam(r, "prefix"), req.NewOwner)
	h.respondPrefix(w, r, "recover_prefix_owner", p, err)
}

func (h *Handler) HandleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[UpdateMetadataRequest](h, w, r)
	if !ok {
		return
	}
	p, err := h.service.UpdatePrefixMetadata(r.Context(), service.UpdateMetadataCommand{
		Prefix:       chi.URLParam(r, "prefix"),
		MetadataURI:  req.MetadataURI,
		MetadataHash: req.hash,
		Attestations: req.Attestations,
	})
	h.respondPrefix(w, r, "update_prefix_metadata", p, err)
}

func (h *Handler) HandleUpdateAuthority(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[UpdateAuthorityRequest](h, w, r)
	if !ok {
		return
	}
	p, err := h.service.UpdatePrefixAuthority(r.Context(), chi.URLParam(r, "prefix"), req.AuthorityKeys)
	h.respondPrefix(w, r, "update_prefix_authority", p, err)
}

func (h *Handler) respondPrefix(w http.ResponseWriter, r *http.Request, op string, p *models.Prefix, err error) {
	if err != nil {
		h.respond(w, r, op, 0, nil, err)
		return
	}
	h.respond(w, r, op, http.StatusOK, FromPrefix(p), nil)
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (h *Handler) HandleGetPrefix(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPrefix(r.Context(), chi.URLParam(r, "prefix"))
	h.respondPrefix(w, r, "get_prefix", p, err)
}

func (h *Handler) HandleListPrefixes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PrefixFilter{After: q.Get("after")}
	if raw := q.Get("status"); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid status"))
			return
		}
		filter.Status = &status
	}
	if raw := q.Get("owner"); raw != "" {
		owner, err := id.ParsePrincipal(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid owner"))
			return
		}
		filter.Owner = &owner
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	items, err := h.service.ListPrefixes(r.Context(), filter)
	if err != nil {
		h.respond(w, r, "list_prefixes", 0, nil, err)
		return
	}
	resp := &PrefixListResponse{Prefixes: make([]*PrefixResponse, len(items))}
	for i, p := range items {
		resp.Prefixes[i] = FromPrefix(p)
	}
	if len(items) == filter.PageSize() {
		resp.Next = items[len(items)-1].Key
	}
	h.respond(w, r, "list_prefixes", http.StatusOK, resp, nil)
}

func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfig(r.Context())
	h.respondConfig(w, r, "get_config", cfg, err)
}

func (h *Handler) HandleListVerifiers(w http.ResponseWriter, r *http.Request) {
	dir, err := h.service.ListVerifiers(r.Context())
	h.respondDirectory(w, r, "list_verifiers", dir, err)
}

func (h *Handler) HandleGetTreasury(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTreasury(r.Context())
	h.respondTreasury(w, r, "get_treasury", t, err)
}

func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := principalParam(w, r)
	if !ok {
		return
	}
	acct, err := h.service.GetAccount(r.Context(), p)
	if err != nil {
		h.respond(w, r, "get_account", 0, nil, err)
		return
	}
	h.respond(w, r, "get_account", http.StatusOK, &AccountResponse{Principal: acct.Principal, Balance: acct.Balance}, nil)
}
