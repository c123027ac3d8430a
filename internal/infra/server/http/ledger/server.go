// Package httpserver exposes the Ledger's request-path HTTP API: wallet
// creation and lookup, plus the dead-letter queue admin surface.
package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	appledger "github.com/moneysaga/engine/internal/app/ledger"
	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/domain/ledger"
	"github.com/moneysaga/engine/internal/errs"
	"github.com/moneysaga/engine/internal/infra/pool"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	walletsPath       = "/wallets"
	walletDetailPrefix = walletsPath + "/"

	dlqPath        = "/admin/dlq"
	dlqDetailPrefix = dlqPath + "/"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	service *appledger.Service
	admin   *appledger.Admin
}

// NewHandler builds the Ledger's HTTP handler.
func NewHandler(service *appledger.Service, admin *appledger.Admin) http.Handler {
	server := &httpServer{service: service, admin: admin}
	mux := http.NewServeMux()

	mux.Handle(walletsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.createWallet,
	}))
	mux.Handle(walletDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getWallet,
	}))

	mux.Handle(dlqPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listDeadLetters,
	}))
	mux.Handle(dlqDetailPrefix, http.HandlerFunc(server.handleDeadLetter))

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

type createWalletPayload struct {
	UserID string `json:"userId"`
}

func (s *httpServer) createWallet(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	defer func() { _ = r.Body.Close() }()

	var payload createWalletPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}

	wallet, err := s.service.CreateWallet(r.Context(), payload.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletProjection(wallet))
}

func (s *httpServer) getWallet(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, walletDetailPrefix), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "wallet id required")
		return
	}
	wallet, err := s.service.GetWallet(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletProjection(wallet))
}

type walletView struct {
	WalletID  string `json:"walletId"`
	UserID    string `json:"userId"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func walletProjection(w ledger.Wallet) walletView {
	return walletView{
		WalletID:  w.WalletID,
		UserID:    w.UserID,
		Balance:   int64(w.Balance),
		CreatedAt: w.CreatedAt.Format(timeLayout),
		UpdatedAt: w.UpdatedAt.Format(timeLayout),
	}
}

func (s *httpServer) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	var status *dlqstore.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st := dlqstore.Status(strings.ToUpper(raw))
		switch st {
		case dlqstore.StatusPending, dlqstore.StatusProcessed, dlqstore.StatusFailed:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "status must be one of PENDING, PROCESSED, FAILED")
			return
		}
	}
	letters, err := s.admin.List(r.Context(), status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deadLetters": letters})
}

func (s *httpServer) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, dlqDetailPrefix), "/")
	id, action, hasAction := strings.Cut(rest, "/")
	dlqID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "dead letter id required")
		return
	}

	if !hasAction {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		dl, err := s.admin.Get(r.Context(), dlqID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dl)
		return
	}

	if action != "replay" {
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	result, err := s.admin.Replay(r.Context(), dlqID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
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
