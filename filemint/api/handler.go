// Package api exposes the registration workflow over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/filemint/contentstore"
	"github.com/filemint/filemint/filemint/failures"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/treasury"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Workflow is the part of *workflow.Orchestrator the handler drives.
type Workflow interface {
	Register(ctx context.Context, req workflow.UploadRequest) (*workflow.Result, error)
	Resume(ctx context.Context, cp workflow.Checkpoint) (*workflow.Result, error)
	Checkpoint(key string) (workflow.Checkpoint, bool)
}

type Balances interface {
	BalanceOf(ctx context.Context, addr common.Address) (treasury.AccountBalance, error)
}

type Options struct {
	Gateway     string
	MaxFileSize int64
	// Cache serves status lookups for recent runs. Optional.
	Cache *StatusCache
}

// Handler serves the registration endpoints.
type Handler struct {
	workflow Workflow
	balances Balances
	opts     Options
	logger   log.Logger
}

func NewHandler(wf Workflow, balances Balances, opts Options) *Handler {
	return &Handler{
		workflow: wf,
		balances: balances,
		opts:     opts,
		logger:   log.New("component", "api"),
	}
}

// Router returns the full route tree, health checks included.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	r.Mount("/registrations", h.Routes())
	r.Get("/balances/{address}", h.GetBalance)
	return r
}

// Routes returns the router for registration endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateRegistration)
	r.Get("/{id}", h.GetRegistration)
	r.Post("/{id}/resume", h.ResumeRegistration)
	return r
}

// RegistrationResponse is a completed run plus display helpers.
type RegistrationResponse struct {
	*workflow.Result
	FileURL       string `json:"fileUrl"`
	MetadataURL   string `json:"metadataUrl"`
	RewardTokens  string `json:"rewardTokens"`
	BalanceTokens string `json:"balanceTokens"`
}

// ErrorResponse carries the checkpoint a caller needs to resume a failed run.
type ErrorResponse struct {
	Error      string               `json:"error"`
	Code       string               `json:"code"`
	State      workflow.State       `json:"state,omitempty"`
	Checkpoint *workflow.Checkpoint `json:"checkpoint,omitempty"`
}

type BalanceResponse struct {
	treasury.AccountBalance
	Tokens string `json:"tokens"`
}

// CreateRegistration takes a multipart upload with fields file, name, creator and account.
func (h *Handler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxFileSize+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, r, fmt.Errorf("%w: upload exceeds %d bytes", failures.ErrPayloadRejected, h.opts.MaxFileSize))
			return
		}
		h.fail(w, r, fmt.Errorf("%w: failed to parse multipart form: %v", failures.ErrInvalidSubmission, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: field 'file' is required", failures.ErrInvalidSubmission))
		return
	}
	defer file.Close()

	if err := CheckFileType(header.Filename); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.opts.MaxFileSize > 0 && header.Size > h.opts.MaxFileSize {
		h.fail(w, r, fmt.Errorf("%w: file is %d bytes, limit is %d", failures.ErrPayloadRejected, header.Size, h.opts.MaxFileSize))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: failed to read upload: %v", failures.ErrInvalidSubmission, err))
		return
	}

	req := workflow.UploadRequest{
		File:         data,
		FileName:     header.Filename,
		DisplayName:  r.FormValue("name"),
		CreatorName:  r.FormValue("creator"),
		OwnerAccount: r.FormValue("account"),
	}

	h.logger.Debug("Upload received", "file", header.Filename, "size", len(data), "owner", req.OwnerAccount, "requestId", middleware.GetReqID(r.Context()))

	res, err := h.workflow.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.response(res))
}

// GetRegistration returns the latest checkpoint for a submission key or run id.
func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cp, ok := h.lookup(id)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Error: fmt.Sprintf("no run for %s", id), Code: "not_found"})
		return
	}
	render.JSON(w, r, cp)
}

// ResumeRegistration continues a stopped run. The body may carry the checkpoint returned
// with the failure; without one the journaled checkpoint is used.
func (h *Handler) ResumeRegistration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cp workflow.Checkpoint
	err := render.DecodeJSON(r.Body, &cp)
	switch {
	case errors.Is(err, io.EOF):
		var ok bool
		cp, ok = h.lookup(id)
		if !ok {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{Error: fmt.Sprintf("no run for %s", id), Code: "not_found"})
			return
		}
	case err != nil:
		h.fail(w, r, fmt.Errorf("%w: failed to decode checkpoint: %v", failures.ErrInvalidSubmission, err))
		return
	}

	if cp.Key != "" && cp.Key != id && cp.RunID != id {
		h.fail(w, r, fmt.Errorf("%w: checkpoint belongs to %s", failures.ErrInvalidSubmission, cp.Key))
		return
	}

	res, err := h.workflow.Resume(r.Context(), cp)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, h.response(res))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	if !common.IsHexAddress(addr) {
		h.fail(w, r, fmt.Errorf("%w: %q is not an account address", failures.ErrInvalidSubmission, addr))
		return
	}

	balance, err := h.balances.BalanceOf(r.Context(), common.HexToAddress(addr))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	render.JSON(w, r, BalanceResponse{AccountBalance: balance, Tokens: ledger.FormatTokens(balance.Balance)})
}

func (h *Handler) lookup(id string) (workflow.Checkpoint, bool) {
	if h.opts.Cache != nil {
		if cp, ok := h.opts.Cache.Get(id); ok {
			return cp, true
		}
	}
	cp, ok := h.workflow.Checkpoint(id)
	if ok && h.opts.Cache != nil {
		h.opts.Cache.Observe(cp)
	}
	return cp, ok
}

func (h *Handler) response(res *workflow.Result) RegistrationResponse {
	return RegistrationResponse{
		Result:        res,
		FileURL:       contentstore.GatewayURL(h.opts.Gateway, res.File.ContentID),
		MetadataURL:   contentstore.GatewayURL(h.opts.Gateway, res.Metadata.ContentID),
		RewardTokens:  ledger.FormatTokens(res.Reward.Amount),
		BalanceTokens: ledger.FormatTokens(res.Balance.Balance),
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Status(err)

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		resp.State = wfErr.State
		if wfErr.Checkpoint.Key != "" {
			cp := wfErr.Checkpoint
			resp.Checkpoint = &cp
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Warn("Request failed", "path", r.URL.Path, "status", status, "err", err, "requestId", middleware.GetReqID(r.Context()))
	} else {
		h.logger.Debug("Request refused", "path", r.URL.Path, "status", status, "err", err)
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// Status maps an error to an HTTP status and a stable error code. A failed reward wraps the
// ledger error that caused it and is reported as reward_transfer_failed whatever the cause.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, failures.ErrInvalidSubmission):
		return http.StatusBadRequest, "invalid_submission"
	case errors.Is(err, failures.ErrDuplicateRegistration):
		return http.StatusConflict, "duplicate_registration"
	case errors.Is(err, failures.ErrRewardTransferFailed):
		return http.StatusBadGateway, "reward_transfer_failed"
	case errors.Is(err, failures.ErrPayloadRejected):
		return http.StatusUnprocessableEntity, "payload_rejected"
	case errors.Is(err, failures.ErrInsufficientGas):
		return http.StatusUnprocessableEntity, "insufficient_gas"
	case errors.Is(err, failures.ErrLedgerRejected):
		return http.StatusUnprocessableEntity, "ledger_rejected"
	case errors.Is(err, failures.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, failures.ErrReceiptTimeout):
		return http.StatusGatewayTimeout, "receipt_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}
