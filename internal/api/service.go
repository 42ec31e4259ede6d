/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/formance"
	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/limits"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/payment"
	"marketplace-ledger-go/internal/reconcile"
	"marketplace-ledger-go/internal/withdrawal"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	headerUserID         = "X-User-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerAdminToken     = "X-Admin-Token"
)

// Dependencies are the core services the API exposes.
type Dependencies struct {
	DB          *database.Service
	Ledger      *ledger.Service
	Payments    *payment.Router
	Withdrawals *withdrawal.Processor
	Limiter     *limits.Limiter
	Fraud       *fraud.Detector
	Guard       *idempotency.Guard
	Reconciler  *reconcile.Reconciler
	// Mirror may be nil when the Formance mirror is disabled.
	Mirror *formance.Service
}

// Service is the HTTP surface of the marketplace ledger. Caller identity
// arrives in X-User-Id from the upstream auth layer.
type Service struct {
	deps Dependencies
	cfg  models.ServerConfig
}

func NewService(deps Dependencies, cfg models.ServerConfig) *Service {
	return &Service{
		deps: deps,
		cfg:  cfg,
	}
}

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.deps.DB.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Routes builds the chi router.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerUserID, headerIdempotencyKey, headerAdminToken},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(withSource("client"))
			r.Post("/payments/initialize", s.handleInitializePayment)
			r.Post("/payments/verify", s.handleVerifyPayment)

			r.Get("/wallets/balances", s.handleBalances)
			r.Get("/wallets/{currency}/history", s.handleHistory)
			r.Post("/wallets/transfer", s.handleTransfer)

			r.Post("/withdrawals", s.handleWithdraw)
			r.Get("/withdrawals", s.handleListWithdrawals)
			r.Get("/withdrawals/{id}", s.handleGetWithdrawal)
			r.Get("/withdrawals/limits/{currency}", s.handleMyLimits)
		})

		r.With(withSource("webhook")).Post("/webhooks/{gateway}", s.handleWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Use(withSource("admin"))
			r.Put("/users/{userId}/tier", s.handleSetTier)
			r.Put("/users/{userId}/limits", s.handleSetCustomLimits)
			r.Get("/users/{userId}/limits/{currency}", s.handleLimitsPreview)
			r.Post("/users/{userId}/suspend", s.handleSuspend)
			r.Post("/users/{userId}/restore", s.handleRestore)

			r.Get("/fraud/users/{userId}", s.handleFraudProfile)
			r.Post("/fraud/users/{userId}/block", s.handleBlockUser(true))
			r.Post("/fraud/users/{userId}/unblock", s.handleBlockUser(false))
			r.Post("/fraud/ips/{ip}/block", s.handleBlockIP(true))
			r.Post("/fraud/ips/{ip}/unblock", s.handleBlockIP(false))

			r.Post("/reconcile", s.handleReconcile)
			r.Get("/wallets/{userId}/{currency}/verify", s.handleVerifyWallet)
			r.Get("/wallets/{userId}/{currency}/mirror", s.handleMirrorBalance)
		})
	})

	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: "unhealthy", Database: "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Database: "ok"})
}

// requestLogger logs every request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

// withSource attaches caller details so ledger entries record where they came from.
func withSource(source string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := models.WithRequestContext(r.Context(), &models.RequestContext{
				RequestId: middleware.GetReqID(r.Context()),
				IP:        r.RemoteAddr,
				Source:    source,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "unauthorized", Message: "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAdmin reports whether r carries the configured admin token. An empty
// token disables admin access.
func (s *Service) isAdmin(r *http.Request) bool {
	token := r.Header.Get(headerAdminToken)
	if s.cfg.AdminToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}

func userID(r *http.Request) (string, error) {
	id := r.Header.Get(headerUserID)
	if id == "" {
		return "", fmt.Errorf("%w: %s header is required", models.ErrValidation, headerUserID)
	}
	return id, nil
}
