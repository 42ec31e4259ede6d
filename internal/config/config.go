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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"marketplace-ledger-go/internal/models"
)

func Load() (*models.Config, error) {
	cfg := &models.Config{}

	durations := []struct {
		key          string
		defaultValue time.Duration
		dst          *time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", 5 * time.Minute, &cfg.Database.ConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", 30 * time.Second, &cfg.Database.ConnMaxIdleTime},
		{"DB_PING_TIMEOUT", 5 * time.Second, &cfg.Database.PingTimeout},
		{"DB_BUSY_TIMEOUT", 5 * time.Second, &cfg.Database.BusyTimeout},
		{"SERVER_REQUEST_TIMEOUT", 30 * time.Second, &cfg.Server.RequestTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", 15 * time.Second, &cfg.Server.ShutdownTimeout},
		{"REDIS_DIAL_TIMEOUT", 2 * time.Second, &cfg.Redis.DialTimeout},
		{"REDIS_READ_TIMEOUT", 500 * time.Millisecond, &cfg.Redis.ReadTimeout},
		{"REDIS_WRITE_TIMEOUT", 500 * time.Millisecond, &cfg.Redis.WriteTimeout},
		{"PAYSTACK_TIMEOUT", 15 * time.Second, &cfg.Paystack.Timeout},
		{"STRIPE_TIMEOUT", 15 * time.Second, &cfg.Stripe.Timeout},
		{"IDEMPOTENCY_TTL", 24 * time.Hour, &cfg.Idempotency.TTL},
		{"RECONCILE_INTERVAL", 0, &cfg.Reconcile.Interval},
		{"RECONCILE_STALE_AFTER", 15 * time.Minute, &cfg.Reconcile.StaleAfter},
		{"FORMANCE_TIMEOUT", 10 * time.Second, &cfg.Formance.Timeout},
	}
	for _, d := range durations {
		v, err := getEnvDuration(d.key, d.defaultValue)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.Database.Path = getEnvString("DATABASE_PATH", "marketplace.db")
	cfg.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)

	cfg.Server.Addr = getEnvString("SERVER_ADDR", ":8080")
	cfg.Server.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.Server.AllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS")

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Formance.StackURL = os.Getenv("FORMANCE_STACK_URL")
	cfg.Formance.ClientID = os.Getenv("FORMANCE_CLIENT_ID")
	cfg.Formance.ClientSecret = os.Getenv("FORMANCE_CLIENT_SECRET")
	cfg.Formance.LedgerName = getEnvString("FORMANCE_LEDGER", "marketplace-wallets")
	cfg.Formance.QueueSize = getEnvInt("FORMANCE_QUEUE_SIZE", 1024)

	cfg.Paystack.BaseURL = os.Getenv("PAYSTACK_BASE_URL")
	cfg.Paystack.SecretKey = os.Getenv("PAYSTACK_SECRET_KEY")
	cfg.Paystack.CallbackURL = os.Getenv("PAYSTACK_CALLBACK_URL")

	cfg.Stripe.BaseURL = os.Getenv("STRIPE_BASE_URL")
	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.CallbackURL = os.Getenv("STRIPE_SUCCESS_URL")
	cfg.Stripe.CancelURL = os.Getenv("STRIPE_CANCEL_URL")

	cfg.Reconcile.BatchSize = getEnvInt("RECONCILE_BATCH_SIZE", 100)
	cfg.PolicyFile = getEnvString("POLICY_FILE", "policy.yaml")

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
