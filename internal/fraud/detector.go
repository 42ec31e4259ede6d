package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marketplace-ledger-go/internal/metrics"
	"marketplace-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actions
const (
	ActionAllow  = "allow"
	ActionReview = "flag_for_review"
	ActionBlock  = "block"
)

// Operations scored by the detector
const (
	OperationPayment    = "payment"
	OperationWithdrawal = "withdrawal"
	OperationTransfer   = "transfer"
)

// Flags
const (
	FlagBlockedUser         = "blocked_user"
	FlagBlockedIP           = "blocked_ip"
	FlagHighVelocity        = "high_velocity"
	FlagHighVelocityAmount  = "high_velocity_amount"
	FlagLargeTransaction    = "large_transaction"
	FlagNewPayee            = "new_payee"
	FlagOffHours            = "off_hours"
	FlagBaselineDeviation   = "baseline_deviation"
	FlagDetectorUnavailable = "detector_unavailable"
)

const maxRiskScore = 100

// Input describes a proposed money movement
type Input struct {
	UserID    string
	Amount    int64
	Currency  string
	Operation string
	IP        string
	// Payee identifies the destination, e.g. bank_code:account_number. Empty skips the new-payee signal.
	Payee string
	At    time.Time
}

// Result is the detector's decision
type Result struct {
	Allowed   bool     `json:"allowed"`
	RiskScore int      `json:"risk_score"`
	Action    string   `json:"action"`
	Reason    string   `json:"reason,omitempty"`
	Flags     []string `json:"flags,omitempty"`
	Degraded  bool     `json:"degraded,omitempty"`
}

// Err maps a block decision to models.ErrFraudBlocked.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", models.ErrFraudBlocked, r.Reason)
}

// FlagString joins flags for metadata.
func (r *Result) FlagString() string {
	return strings.Join(r.Flags, ",")
}

// Detector risk-scores money movements
type Detector struct {
	store  StateStore
	policy models.FraudPolicy
	large  map[string]int64
	now    func() time.Time
}

func NewDetector(store StateStore, policy *models.Policy) *Detector {
	return &Detector{
		store:  store,
		policy: policy.Fraud,
		large:  policy.LargeTransaction,
		now:    time.Now,
	}
}

// Analyze scores in and decides. It fails open: when the state store is
// unreachable the movement is allowed and flagged detector_unavailable.
func (d *Detector) Analyze(ctx context.Context, in Input) *Result {
	if in.At.IsZero() {
		in.At = d.now()
	}

	result, err := d.analyze(ctx, in)
	if err != nil {
		zap.L().Warn("Fraud detector degraded, allowing operation",
			zap.String("user_id", in.UserID),
			zap.String("operation", in.Operation),
			zap.String("currency", in.Currency),
			zap.Int64("amount", in.Amount),
			zap.Error(err))
		metrics.Business.FraudDegradedTotal.Inc()
		result = &Result{
			Allowed:  true,
			Action:   ActionAllow,
			Reason:   "fraud detector unavailable",
			Flags:    []string{FlagDetectorUnavailable},
			Degraded: true,
		}
	}

	metrics.Business.FraudDecisionsTotal.WithLabelValues(in.Operation, result.Action).Inc()
	if result.Action != ActionAllow {
		zap.L().Warn("Fraud check flagged operation",
			zap.String("user_id", in.UserID),
			zap.String("operation", in.Operation),
			zap.String("currency", in.Currency),
			zap.Int64("amount", in.Amount),
			zap.Int("risk_score", result.RiskScore),
			zap.String("action", result.Action),
			zap.Strings("flags", result.Flags))
	} else {
		zap.L().Debug("Fraud check passed",
			zap.String("user_id", in.UserID),
			zap.String("operation", in.Operation),
			zap.Int("risk_score", result.RiskScore))
	}
	return result
}

func (d *Detector) analyze(ctx context.Context, in Input) (*Result, error) {
	blocked, err := d.store.IsBlocked(ctx, SubjectUser, in.UserID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return d.decide(ctx, in, maxRiskScore, []string{FlagBlockedUser}, "user is blocked"), nil
	}
	if in.IP != "" {
		blocked, err = d.store.IsBlocked(ctx, SubjectIP, in.IP)
		if err != nil {
			return nil, err
		}
		if blocked {
			return d.decide(ctx, in, maxRiskScore, []string{FlagBlockedIP}, "ip address is blocked"), nil
		}
	}

	w := d.policy.Weights
	score := 0
	var flags []string
	add := func(flag string, weight int) {
		score += weight
		flags = append(flags, flag)
	}

	velocity, err := d.store.AddVelocity(ctx, in.UserID, in.Currency, in.Amount, in.At)
	if err != nil {
		return nil, err
	}
	if d.policy.VelocityMaxCount > 0 && velocity.Count > d.policy.VelocityMaxCount {
		add(FlagHighVelocity, w.Velocity)
	}
	if maxSum := d.policy.VelocityMaxSum[in.Currency]; maxSum > 0 && velocity.Sum > maxSum {
		add(FlagHighVelocityAmount, w.VelocitySum)
	}

	if threshold := d.large[in.Currency]; threshold > 0 && in.Amount >= threshold {
		add(FlagLargeTransaction, w.LargeTransaction)
	}

	if in.Payee != "" {
		first, seen, err := d.store.PayeeFirstSeen(ctx, in.UserID, in.Payee)
		if err != nil {
			return nil, err
		}
		if !seen || in.At.Sub(first) < d.policy.NewPayeeGrace {
			add(FlagNewPayee, w.NewPayee)
		}
	}

	if d.offHours(in.At) {
		add(FlagOffHours, w.OffHours)
	}

	baseline, err := d.store.Baseline(ctx, in.UserID, in.Currency)
	if err != nil {
		return nil, err
	}
	if d.deviates(baseline, in.Amount) {
		add(FlagBaselineDeviation, w.BaselineDeviation)
	}

	reason := "no risk signals"
	if len(flags) > 0 {
		reason = "risk signals: " + strings.Join(flags, ", ")
	}
	return d.decide(ctx, in, score, flags, reason), nil
}

func (d *Detector) decide(ctx context.Context, in Input, score int, flags []string, reason string) *Result {
	score = min(score, maxRiskScore)
	action := ActionAllow
	switch {
	case score >= d.policy.BlockThreshold:
		action = ActionBlock
	case score >= d.policy.ReviewThreshold:
		action = ActionReview
	}

	if err := d.store.SaveScore(ctx, in.UserID, score, action, in.At); err != nil {
		zap.L().Warn("Failed to save risk score", zap.String("user_id", in.UserID), zap.Error(err))
	}
	return &Result{
		Allowed:   action != ActionBlock,
		RiskScore: score,
		Action:    action,
		Reason:    reason,
		Flags:     flags,
	}
}

// offHours reports whether at falls in [OffHoursStart, OffHoursEnd) UTC. The
// window may wrap midnight.
func (d *Detector) offHours(at time.Time) bool {
	start, end := d.policy.OffHoursStart, d.policy.OffHoursEnd
	if start == end {
		return false
	}
	h := at.UTC().Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

func (d *Detector) deviates(baseline Window, amount int64) bool {
	if baseline.Count == 0 || baseline.Count < d.policy.BaselineMinSamples {
		return false
	}
	avg := decimal.NewFromInt(baseline.Sum).Div(decimal.NewFromInt(baseline.Count))
	return decimal.NewFromInt(amount).GreaterThan(avg.Mul(d.policy.BaselineMultiplier))
}

// Observe updates the user's baseline and payee registry after a committed
// movement. Errors are logged only.
func (d *Detector) Observe(ctx context.Context, in Input) {
	if in.At.IsZero() {
		in.At = d.now()
	}
	if err := d.store.AddBaseline(ctx, in.UserID, in.Currency, in.Amount); err != nil {
		zap.L().Warn("Failed to update fraud baseline", zap.String("user_id", in.UserID), zap.Error(err))
	}
	if in.Payee != "" {
		if err := d.store.RememberPayee(ctx, in.UserID, in.Payee, in.At); err != nil {
			zap.L().Warn("Failed to record payee", zap.String("user_id", in.UserID), zap.Error(err))
		}
	}
}

// BlockUser blocks every money movement of userId. Balances are untouched.
func (d *Detector) BlockUser(ctx context.Context, userId string) error {
	return d.setBlocked(ctx, SubjectUser, userId, true)
}

func (d *Detector) UnblockUser(ctx context.Context, userId string) error {
	return d.setBlocked(ctx, SubjectUser, userId, false)
}

func (d *Detector) BlockIP(ctx context.Context, ip string) error {
	return d.setBlocked(ctx, SubjectIP, ip, true)
}

func (d *Detector) UnblockIP(ctx context.Context, ip string) error {
	return d.setBlocked(ctx, SubjectIP, ip, false)
}

// Profile returns the user's risk profile.
func (d *Detector) Profile(ctx context.Context, userId string) (*Profile, error) {
	return d.store.Profile(ctx, userId)
}

func (d *Detector) setBlocked(ctx context.Context, subject, id string, blocked bool) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", models.ErrValidation, subject)
	}
	if err := d.store.SetBlocked(ctx, subject, id, blocked); err != nil {
		zap.L().Error("Failed to update fraud block", zap.String("subject", subject), zap.String("id", id), zap.Error(err))
		return err
	}
	zap.L().Info("Fraud block updated", zap.String("subject", subject), zap.String("id", id), zap.Bool("blocked", blocked))
	return nil
}
