// Package httpserver exposes the Coordinator's request-path HTTP API:
// transfer initiation and lookup.
package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/moneysaga/engine/internal/app/coordinator"
	"github.com/moneysaga/engine/internal/domain/money"
	"github.com/moneysaga/engine/internal/domain/saga"
	"github.com/moneysaga/engine/internal/errs"
	"github.com/moneysaga/engine/internal/infra/pool"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	transfersPath       = "/transfers"
	transferDetailPrefix = transfersPath + "/"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	service     *coordinator.Service
	sagaTimeout time.Duration
}

// NewHandler builds the Coordinator's HTTP handler. sagaTimeout is the
// deadline granted to every transfer initiated through it; the request body
// has no per-transfer timeout field.
func NewHandler(service *coordinator.Service, sagaTimeout time.Duration) http.Handler {
	server := &httpServer{service: service, sagaTimeout: sagaTimeout}
	mux := http.NewServeMux()

	mux.Handle(transfersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.initiateTransfer,
	}))
	mux.Handle(transferDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getTransfer,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

type initiateTransferPayload struct {
	SenderWalletID   string `json:"senderWalletId"`
	ReceiverWalletID string `json:"receiverWalletId"`
	Amount           int64  `json:"amount"`
}

func (s *httpServer) initiateTransfer(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	defer func() { _ = r.Body.Close() }()

	var payload initiateTransferPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	transfer, err := s.service.Initiate(r.Context(), payload.SenderWalletID, payload.ReceiverWalletID, money.Amount(payload.Amount), s.sagaTimeout)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, transferProjection(transfer))
}

func (s *httpServer) getTransfer(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, transferDetailPrefix), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "transfer id required")
		return
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "transfer id must be a valid uuid")
		return
	}
	transfer, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transferProjection(transfer))
}

type transferView struct {
	TransferID       string  `json:"transferId"`
	SenderWalletID   string  `json:"senderWalletId"`
	ReceiverWalletID string  `json:"receiverWalletId"`
	Amount           int64   `json:"amount"`
	Status           string  `json:"status"`
	FailureReason    *string `json:"failureReason,omitempty"`
	TimeoutAt        string  `json:"timeoutAt"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func transferProjection(t saga.Transfer) transferView {
	return transferView{
		TransferID:       t.TransferID,
		SenderWalletID:   t.SenderWalletID,
		ReceiverWalletID: t.ReceiverWalletID,
		Amount:           int64(t.Amount),
		Status:           string(t.Status),
		FailureReason:    t.FailureReason,
		TimeoutAt:        t.TimeoutAt.Format(timeLayout),
		CreatedAt:        t.CreatedAt.Format(timeLayout),
		UpdatedAt:        t.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, errs.HTTPStatus(err), err.Error())
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("decode payload: %v", err))
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = pool.WriteJSON(w, payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
