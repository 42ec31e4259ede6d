package fraud

import (
	"context"
	"time"
)

// Block subjects
const (
	SubjectUser = "user"
	SubjectIP   = "ip"
)

// Profile is the per-user risk state kept by the detector
type Profile struct {
	UserId        string    `json:"user_id"`
	Blocked       bool      `json:"blocked"`
	LastRiskScore int       `json:"last_risk_score"`
	LastAction    string    `json:"last_action,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Window counts money movements over a period
type Window struct {
	Count int64
	Sum   int64
}

// StateStore persists fraud state. Any error makes the detector fail open.
type StateStore interface {
	// AddVelocity records a movement at and returns the totals of the hour
	// ending at it, including the movement.
	AddVelocity(ctx context.Context, userId, currency string, amount int64, at time.Time) (Window, error)
	Baseline(ctx context.Context, userId, currency string) (Window, error)
	AddBaseline(ctx context.Context, userId, currency string, amount int64) error
	// PayeeFirstSeen returns when the user first paid payee, or ok=false.
	PayeeFirstSeen(ctx context.Context, userId, payee string) (first time.Time, ok bool, err error)
	// RememberPayee records the first use of payee. Later calls keep the first time.
	RememberPayee(ctx context.Context, userId, payee string, at time.Time) error
	IsBlocked(ctx context.Context, subject, id string) (bool, error)
	SetBlocked(ctx context.Context, subject, id string, blocked bool) error
	SaveScore(ctx context.Context, userId string, score int, action string, at time.Time) error
	Profile(ctx context.Context, userId string) (*Profile, error)
}

const velocityPeriod = int64(time.Hour / time.Second)

// velocityBucket is the start of the hour bucket containing at.
func velocityBucket(at time.Time) int64 {
	return at.UTC().Truncate(time.Hour).Unix()
}

// slidingWindow estimates the hour ending at from the current bucket and the
// part of the previous bucket still inside that hour, assuming the previous
// bucket's movements were spread evenly.
func slidingWindow(current, previous Window, at time.Time) Window {
	elapsed := at.UTC().Unix() - velocityBucket(at)
	remaining := velocityPeriod - elapsed
	return Window{
		Count: current.Count + previous.Count*remaining/velocityPeriod,
		Sum:   current.Sum + previous.Sum*remaining/velocityPeriod,
	}
}
