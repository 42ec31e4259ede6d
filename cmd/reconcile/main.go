package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketplace-ledger-go/internal/common"
	"marketplace-ledger-go/internal/config"
	"marketplace-ledger-go/internal/models"

	"go.uber.org/zap"
)

func printSummary(summary *models.ReconcileSummary) {
	common.PrintHeader("RECONCILIATION PASS", common.DefaultWidth)
	fmt.Printf("Withdrawals checked:    %d\n", summary.WithdrawalsChecked)
	fmt.Printf("  completed:            %d\n", summary.WithdrawalsCompleted)
	fmt.Printf("  released:             %d\n", summary.WithdrawalsReleased)
	fmt.Printf("  still pending:        %d\n", summary.WithdrawalsPending)
	fmt.Printf("Reconciliation tasks:   %d checked, %d resolved\n", summary.TasksChecked, summary.TasksResolved)
	fmt.Printf("  entries reposted:     %d\n", summary.EntriesReposted)
	fmt.Printf("Idempotency keys purged: %d\n", summary.KeysPurged)
	fmt.Printf("Errors:                 %d\n", summary.Errors)
}

func printBalanceChecks(checks []models.BalanceCheck) int {
	common.PrintHeader("WALLET VERIFICATION", common.DefaultWidth)
	mismatches := 0
	for i, c := range checks {
		status := "ok"
		if c.Error != "" {
			status = c.Error
			mismatches++
		}
		fmt.Printf("%s %s %s: %s\n", common.BoxPrefix(i == len(checks)-1), c.UserId, c.Currency, status)
	}
	return mismatches
}

func main() {
	intervalFlag := flag.Duration("interval", 0, "Repeat the pass on this interval until interrupted (default: run once)")
	verifyFlag := flag.Bool("verify", false, "Also verify every wallet against its entry log")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if *intervalFlag > 0 {
		cfg.Reconcile.Interval = *intervalFlag
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if *intervalFlag <= 0 {
		summary, err := services.Reconciler.RunOnce(ctx)
		if err != nil {
			zap.L().Fatal("Reconciliation failed", zap.Error(err))
		}
		printSummary(summary)

		if *verifyFlag {
			checks, err := services.Reconciler.VerifyBalances(ctx)
			if err != nil {
				zap.L().Fatal("Wallet verification failed", zap.Error(err))
			}
			if mismatches := printBalanceChecks(checks); mismatches > 0 {
				zap.L().Error("Wallet verification found mismatches",
					zap.Int("wallets", len(checks)),
					zap.Int("mismatches", mismatches))
			}
		}
		common.PrintFooter("Reconciliation complete", common.DefaultWidth)
		return
	}

	if err := services.Reconciler.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start reconciler", zap.Error(err))
	}
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping reconciler...")
	services.Reconciler.Stop()
}
