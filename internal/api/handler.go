// Package api exposes the referral engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/logging"
	"github.com/ofair/referrals/internal/models"
	"github.com/ofair/referrals/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Identity headers set by the gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderVerified = "X-User-Verified"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "referrals_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "referrals_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	log       *logging.Logger
	referrals *service.ReferralService
	calc      *service.CommissionCalculator
	payments  *service.PaymentProcessor
	stats     *service.StatsAggregator
	validate  *validator.Validate
}

func NewHandler(
	log *logging.Logger,
	referrals *service.ReferralService,
	calc *service.CommissionCalculator,
	payments *service.PaymentProcessor,
	stats *service.StatsAggregator,
) *Handler {
	return &Handler{
		log:       log.Named("api"),
		referrals: referrals,
		calc:      calc,
		payments:  payments,
		stats:     stats,
		validate:  validator.New(),
	}
}

// Router wires every route. /health and /metrics need no identity headers.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.identify)
	v1.HandleFunc("/referrals", h.CreateReferralHandler).Methods(http.MethodPost)
	v1.HandleFunc("/referrals/{id}", h.GetReferralHandler).Methods(http.MethodGet)
	v1.HandleFunc("/referrals/{id}/chain", h.GetReferralChainHandler).Methods(http.MethodGet)
	v1.HandleFunc("/referrals/{id}/status", h.UpdateReferralStatusHandler).Methods(http.MethodPatch)
	v1.HandleFunc("/referrals/{id}/commission", h.CalculateCommissionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/referrals/{id}/commissions/recalculate", h.RecalculateChainHandler).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}/referrals", h.ListUserReferralsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/stats", h.GetUserStatsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/commissions/pending", h.ListPendingCommissionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/commissions/{id}/approve", h.ApproveCommissionHandler).Methods(http.MethodPost)
	v1.HandleFunc("/commissions/{id}/pay", h.PayCommissionHandler).Methods(http.MethodPost)
	return r
}

type principalKey struct{}

func principalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalKey{}).(domain.Principal)
	return p
}

// identify turns the gateway headers into a domain.Principal.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		role := domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if userID == "" || !role.Valid() {
			respondWithError(w, http.StatusUnauthorized, "Missing or invalid identity headers")
			return
		}
		verified, _ := strconv.ParseBool(r.Header.Get(HeaderVerified))

		p := domain.Principal{UserID: userID, Role: role, IsVerified: verified}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		defer timer.ObserveDuration()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body and runs its validate tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

// fail maps a service error onto a status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	msg := "Internal Server Error"
	switch {
	case errors.Is(err, domain.ErrValidation):
		code, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrPermission):
		code, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrImmutableState):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrCycleDetected):
		h.log.Error("referral graph integrity failure", zap.String("path", r.URL.Path), zap.Error(err))
	default:
		h.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondWithError(w, code, msg)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
