package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Metadata is an open string map attached to ledger entries and purchases.
//
// Documented keys:
//
//	user_id          paying or withdrawing user
//	content_type     catalog content type (course, video, live_class, bundle, subscription)
//	content_id       catalog content id, absent for bundle/subscription access
//	owner_id         content owner credited on settlement
//	coupon_code      coupon applied at initialization
//	idempotency_key  caller key that started the operation
//	source           client or webhook
//	ip               caller IP as seen by the API
//	payee            withdrawal destination (bank_code:account_number)
//	risk_flags       comma separated fraud flags
//	counterparty     other user of a transfer
type Metadata map[string]string

const (
	MetaUserId         = "user_id"
	MetaContentType    = "content_type"
	MetaContentId      = "content_id"
	MetaOwnerId        = "owner_id"
	MetaCouponCode     = "coupon_code"
	MetaIdempotencyKey = "idempotency_key"
	MetaSource         = "source"
	MetaIP             = "ip"
	MetaPayee          = "payee"
	MetaRiskFlags      = "risk_flags"
	MetaCounterparty   = "counterparty"
)

// Value stores metadata as a JSON object.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads metadata stored as a JSON object.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	if len(out) == 0 {
		*m = nil
		return nil
	}
	*m = out
	return nil
}

// Merge returns a copy of m with other's keys applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
