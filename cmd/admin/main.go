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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"marketplace-ledger-go/internal/common"
	"marketplace-ledger-go/internal/config"
	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

const usage = `usage: admin <command> [flags]

commands:
  limits        -user ID -currency CUR [-amount MAJOR]   preview withdrawal limits
  set-tier      -user ID -tier NAME
  set-limits    -user ID -currency CUR [-daily MAJOR] [-monthly MAJOR]   empty clears an override
  suspend       -user ID -reason TEXT
  restore       -user ID
  fraud-profile -user ID
  block-user    -user ID
  unblock-user  -user ID
  block-ip      -ip ADDR
  unblock-ip    -ip ADDR
`

type adminFlags struct {
	user     string
	currency string
	amount   string
	tier     string
	daily    string
	monthly  string
	reason   string
	ip       string
}

func parseFlags(command string, args []string) (*adminFlags, error) {
	f := &adminFlags{}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVar(&f.user, "user", "", "User id")
	fs.StringVar(&f.currency, "currency", "", "Wallet currency, NGN or USD")
	fs.StringVar(&f.amount, "amount", "", "Amount in major units")
	fs.StringVar(&f.tier, "tier", "", "Limit tier name")
	fs.StringVar(&f.daily, "daily", "", "Custom daily limit in major units")
	fs.StringVar(&f.monthly, "monthly", "", "Custom monthly limit in major units")
	fs.StringVar(&f.reason, "reason", "", "Suspension reason")
	fs.StringVar(&f.ip, "ip", "", "IP address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// optionalMinor parses an optional major-unit amount. Empty means nil.
func optionalMinor(raw, currency string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := common.ParseMajor(raw, currency)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func printLimits(check any) {
	out, _ := json.MarshalIndent(check, "", "  ")
	fmt.Println(string(out))
}

func run(ctx context.Context, services *common.Services, command string, f *adminFlags) error {
	needUser := command != "block-ip" && command != "unblock-ip"
	if needUser && f.user == "" {
		return fmt.Errorf("--user is required")
	}

	switch command {
	case "limits":
		cur, err := models.NormalizeCurrency(f.currency)
		if err != nil {
			return err
		}
		var amount int64
		if f.amount != "" {
			if amount, err = common.ParseMajor(f.amount, cur); err != nil {
				return err
			}
		}
		check, err := services.Limiter.CheckLimits(ctx, f.user, amount, cur)
		if err != nil {
			return err
		}
		printLimits(check)
	case "set-tier":
		if err := services.Limiter.SetTier(ctx, f.user, f.tier); err != nil {
			return err
		}
		fmt.Printf("User %s moved to tier %s\n", f.user, f.tier)
	case "set-limits":
		cur, err := models.NormalizeCurrency(f.currency)
		if err != nil {
			return err
		}
		daily, err := optionalMinor(f.daily, cur)
		if err != nil {
			return err
		}
		monthly, err := optionalMinor(f.monthly, cur)
		if err != nil {
			return err
		}
		if err := services.Limiter.SetCustomLimits(ctx, f.user, cur, daily, monthly); err != nil {
			return err
		}
		check, err := services.Limiter.CheckLimits(ctx, f.user, 0, cur)
		if err != nil {
			return err
		}
		printLimits(check)
	case "suspend":
		if err := services.Limiter.SuspendUser(ctx, f.user, f.reason); err != nil {
			return err
		}
		fmt.Printf("User %s suspended: %s\n", f.user, f.reason)
	case "restore":
		if err := services.Limiter.RestoreUser(ctx, f.user); err != nil {
			return err
		}
		fmt.Printf("User %s restored\n", f.user)
	case "fraud-profile":
		profile, err := services.Fraud.Profile(ctx, f.user)
		if err != nil {
			return err
		}
		printLimits(profile)
	case "block-user":
		if err := services.Fraud.BlockUser(ctx, f.user); err != nil {
			return err
		}
		fmt.Printf("User %s blocked\n", f.user)
	case "unblock-user":
		if err := services.Fraud.UnblockUser(ctx, f.user); err != nil {
			return err
		}
		fmt.Printf("User %s unblocked\n", f.user)
	case "block-ip", "unblock-ip":
		if f.ip == "" {
			return fmt.Errorf("--ip is required")
		}
		var err error
		if command == "block-ip" {
			err = services.Fraud.BlockIP(ctx, f.ip)
		} else {
			err = services.Fraud.UnblockIP(ctx, f.ip)
		}
		if err != nil {
			return err
		}
		fmt.Printf("IP %s %sed\n", f.ip, strings.TrimSuffix(command, "-ip"))
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	f, err := parseFlags(command, os.Args[2:])
	if err != nil {
		fmt.Fprint(os.Stderr, usage)
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	if cfg.Redis.Addr == "" && (strings.Contains(command, "block") || command == "fraud-profile") {
		zap.L().Warn("REDIS_ADDR not set, fraud state is in-memory and will not outlive this command")
	}

	// Admin actions never move money, so gateways are not needed
	services, err := common.InitializeCore(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	zap.L().Info("Running admin command", zap.String("command", command), zap.String("user_id", f.user))
	if err := run(ctx, services, command, f); err != nil {
		zap.L().Fatal("Admin command failed", zap.String("command", command), zap.Error(err))
	}
}
