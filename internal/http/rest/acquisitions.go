package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Novice000/crypto_export_fetcher/internal/acquire"
	"github.com/Novice000/crypto_export_fetcher/internal/fetch"
	"github.com/Novice000/crypto_export_fetcher/internal/logctx"
	"github.com/Novice000/crypto_export_fetcher/internal/storage"
	"github.com/go-chi/chi/v5"
)

// AcquisitionRunner is the slice of the acquirer the API needs.
type AcquisitionRunner interface {
	Acquire(ctx context.Context, req acquire.Request) (acquire.PlacementResult, error)
	AcquireBatch(ctx context.Context, reqs []acquire.Request) []acquire.BatchItem
}

// AcquisitionRequest is the wire form of one acquisition request.
type AcquisitionRequest struct {
	ResourceURL string `json:"resource_url"`
	FileName    string `json:"file_name"`
	Policy      string `json:"policy"`
}

// AcquisitionResponse is the wire form of a successful acquisition.
type AcquisitionResponse struct {
	FileName      string `json:"file_name"`
	FinalLocation string `json:"final_location"`
	Handoff       bool   `json:"handoff"`
}

// BatchResponseItem is the wire form of one batch result.
type BatchResponseItem struct {
	FileName      string `json:"file_name"`
	FinalLocation string `json:"final_location,omitempty"`
	Handoff       bool   `json:"handoff"`
	Error         string `json:"error,omitempty"`
}

// HistoryItem is the wire form of one acquisition record.
type HistoryItem struct {
	FileName      string `json:"file_name"`
	ResourceURL   string `json:"resource_url"`
	Policy        string `json:"policy"`
	FinalLocation string `json:"final_location,omitempty"`
	Handoff       bool   `json:"handoff"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	RequestedAt   string `json:"requested_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// AcquisitionHandler exposes the acquisition pipeline over REST.
type AcquisitionHandler struct {
	username string
	password string
	acquirer AcquisitionRunner
	history  storage.AcquisitionReadRepository
}

// NewAcquisitionHandler creates a new acquisition handler.
func NewAcquisitionHandler(username, password string, acquirer AcquisitionRunner, history storage.AcquisitionReadRepository) *AcquisitionHandler {
	return &AcquisitionHandler{
		username: username,
		password: password,
		acquirer: acquirer,
		history:  history,
	}
}

func (h *AcquisitionHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/acquisitions", h.HandleAcquire)
	r.Post("/acquisitions/batch", h.HandleAcquireBatch)
	r.Get("/acquisitions", h.HandleList)

	return r
}

// HandleAcquire runs a single acquisition synchronously and reports its
// placement.
func (h *AcquisitionHandler) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var wireReq AcquisitionRequest
	if err := json.NewDecoder(r.Body).Decode(&wireReq); err != nil {
		logger.Error("failed to decode request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	req, err := wireReq.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	result, err := h.acquirer.Acquire(r.Context(), req)
	if err != nil {
		logger.Error("acquisition failed", "file_name", req.FileName, "err", err)
		writeError(w, statusForError(err), err.Error())

		return
	}

	writeJSON(w, http.StatusCreated, AcquisitionResponse{
		FileName:      req.FileName,
		FinalLocation: result.FinalLocation,
		Handoff:       result.Handoff,
	})
}

// HandleAcquireBatch runs independent acquisitions and reports per-item
// outcomes; the response is 200 even when individual items failed.
func (h *AcquisitionHandler) HandleAcquireBatch(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var wireReqs []AcquisitionRequest
	if err := json.NewDecoder(r.Body).Decode(&wireReqs); err != nil {
		logger.Error("failed to decode batch request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if len(wireReqs) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")

		return
	}

	reqs := make([]acquire.Request, 0, len(wireReqs))

	for _, wr := range wireReqs {
		req, err := wr.toRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())

			return
		}

		reqs = append(reqs, req)
	}

	items := h.acquirer.AcquireBatch(r.Context(), reqs)

	response := make([]BatchResponseItem, 0, len(items))

	for _, item := range items {
		out := BatchResponseItem{
			FileName:      item.Request.FileName,
			FinalLocation: item.Result.FinalLocation,
			Handoff:       item.Result.Handoff,
		}

		if item.Err != nil {
			out.Error = item.Err.Error()
			out.FinalLocation = ""
			out.Handoff = false
		}

		response = append(response, out)
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleList reports the acquisition history.
func (h *AcquisitionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.history.GetAcquisitions()
	if err != nil {
		logger.Error("failed to read acquisition history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read acquisition history")

		return
	}

	items := make([]HistoryItem, 0, len(records))

	for _, rec := range records {
		items = append(items, HistoryItem{
			FileName:      rec.FileName,
			ResourceURL:   rec.ResourceURL,
			Policy:        rec.Policy,
			FinalLocation: rec.FinalLocation,
			Handoff:       rec.Handoff,
			Status:        rec.Status,
			FailureReason: rec.FailureReason,
			RequestedAt:   rec.RequestedAt,
			CompletedAt:   rec.CompletedAt,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

func (wr AcquisitionRequest) toRequest() (acquire.Request, error) {
	policy, err := acquire.ParsePolicy(wr.Policy)
	if err != nil {
		return acquire.Request{}, err
	}

	return acquire.Request{
		ResourceURL: wr.ResourceURL,
		FileName:    wr.FileName,
		Policy:      policy,
	}, nil
}

// statusForError maps the acquisition error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	var (
		invalid  *acquire.InvalidRequestError
		transfer *fetch.TransferError
		share    *acquire.ShareUnavailableError
	)

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrInFlight):
		return http.StatusConflict
	case errors.As(err, &transfer):
		return http.StatusBadGateway
	case errors.As(err, &share):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func (h *AcquisitionHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" && h.password == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
