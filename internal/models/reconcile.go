package models

// ReconcileSummary counts the outcomes of one reconciliation pass
type ReconcileSummary struct {
	WithdrawalsChecked   int   `json:"withdrawals_checked"`
	WithdrawalsCompleted int   `json:"withdrawals_completed"`
	WithdrawalsReleased  int   `json:"withdrawals_released"`
	WithdrawalsPending   int   `json:"withdrawals_pending"`
	TasksChecked         int   `json:"tasks_checked"`
	TasksResolved        int   `json:"tasks_resolved"`
	EntriesReposted      int   `json:"entries_reposted"`
	KeysPurged           int64 `json:"keys_purged"`
	Errors               int   `json:"errors"`
}

// BalanceCheck is the outcome of comparing one wallet with its entry log
type BalanceCheck struct {
	UserId   string `json:"user_id"`
	Currency string `json:"currency"`
	Error    string `json:"error,omitempty"`
}
