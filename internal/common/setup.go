package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"marketplace-ledger-go/internal/database"
	"marketplace-ledger-go/internal/formance"
	"marketplace-ledger-go/internal/fraud"
	"marketplace-ledger-go/internal/gateway"
	"marketplace-ledger-go/internal/idempotency"
	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/limits"
	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/payment"
	"marketplace-ledger-go/internal/reconcile"
	"marketplace-ledger-go/internal/withdrawal"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the wired core. Gateway-backed fields are nil after
// InitializeCore.
type Services struct {
	DbService   *database.Service
	Policy      *models.Policy
	Ledger      *ledger.Service
	Mirror      *formance.Service
	Fraud       *fraud.Detector
	Limiter     *limits.Limiter
	Guard       *idempotency.Guard
	Routes      *gateway.Routes
	Payments    *payment.Router
	Withdrawals *withdrawal.Processor
	Reconciler  *reconcile.Reconciler

	fraudStore  *fraud.RedisStore
	mirrorQueue *ledger.MirrorQueue
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeCore wires everything that needs no gateway credentials: the
// database, ledger, optional Formance mirror, fraud detector, limiter and
// idempotency guard.
func InitializeCore(ctx context.Context, cfg *models.Config) (*Services, error) {
	policy, err := LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &Services{DbService: dbService, Policy: policy}

	var mirror *ledger.MirrorQueue
	if cfg.Formance.StackURL != "" {
		s.Mirror, err = formance.NewService(ctx, cfg.Formance)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize formance mirror: %w", err)
		}
		mirror = ledger.NewMirrorQueue(s.Mirror, dbService, cfg.Formance.QueueSize, cfg.Formance.Timeout)
		mirror.Start()
		s.mirrorQueue = mirror
	} else {
		zap.L().Info("Formance mirror disabled")
	}
	s.Ledger = ledger.NewService(dbService, mirror)

	var fraudState fraud.StateStore
	if cfg.Redis.Addr != "" {
		s.fraudStore = fraud.NewRedisStore(ctx, cfg.Redis)
		fraudState = s.fraudStore
	} else {
		zap.L().Info("Using in-memory fraud state store")
		fraudState = fraud.NewMemoryStore()
	}
	s.Fraud = fraud.NewDetector(fraudState, policy)
	s.Limiter = limits.NewLimiter(dbService, policy)
	s.Guard = idempotency.NewGuard(dbService.Idempotency(), cfg.Idempotency.TTL)

	return s, nil
}

// InitializeServices wires the core plus the gateway clients, payment router,
// withdrawal processor and reconciler.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	s, err := InitializeCore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	paystack, err := gateway.NewPaystack(cfg.Paystack)
	if err != nil {
		s.Close()
		return nil, err
	}
	stripe, err := gateway.NewStripe(cfg.Stripe)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Routes, err = gateway.NewRoutes(paystack, stripe)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Payments = payment.NewRouter(s.DbService, s.DbService, s.Ledger, s.Guard, s.Fraud, s.Routes, s.Policy)
	s.Withdrawals = withdrawal.NewProcessor(s.DbService, s.Ledger, s.Guard, s.Limiter, s.Fraud, s.Routes,
		withdrawal.NewFeeCalculator(s.Policy))
	s.Reconciler = reconcile.NewReconciler(s.DbService, s.Ledger, s.Withdrawals, s.Guard, cfg.Reconcile)

	zap.L().Info("Services initialized",
		zap.Bool("formance_mirror", s.Mirror != nil),
		zap.Bool("redis_fraud_store", s.fraudStore != nil))
	return s, nil
}

// InitializeDatabaseOnly initializes just the database service
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.fraudStore != nil {
		if err := cs.fraudStore.Close(); err != nil {
			zap.L().Warn("Failed to close fraud state store", zap.Error(err))
		}
	}
	if cs.mirrorQueue != nil {
		cs.mirrorQueue.Stop()
	}
	if cs.Mirror != nil {
		cs.Mirror.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
