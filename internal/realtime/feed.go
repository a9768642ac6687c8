// Package realtime delivers row changes to subscribed UI sessions.
//
// A ChangeFeed emits ChangeEvents for tables; the Hub is the in-process feed,
// fed either directly by services or by a PGListener relaying Postgres
// notifications. A Dispatcher sits on top of a feed and routes events for one
// connected user to per-channel callbacks.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/findmydocs/backend/internal/domain"
)

var ErrFeedClosed = errors.New("change feed is closed")

// ChangeEvent is one inserted or updated row.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  domain.ChangeOp `json:"type"`
	New   json.RawMessage `json:"record"`
}

// Condition is a single column test of a Filter.
type Condition struct {
	Column string
	Value  string
	Null   bool
}

// Eq matches rows whose column equals value in its JSON string form.
func Eq(column, value string) Condition {
	return Condition{Column: column, Value: value}
}

// IsNull matches rows whose column is null or absent.
func IsNull(column string) Condition {
	return Condition{Column: column, Null: true}
}

// Filter is a conjunction of conditions. The empty filter matches every row.
type Filter []Condition

// Matches evaluates the filter against a decoded row.
func (f Filter) Matches(row map[string]any) bool {
	for _, c := range f {
		v, ok := row[c.Column]
		if c.Null {
			if ok && v != nil {
				return false
			}
			continue
		}
		if !ok || v == nil || fmt.Sprint(v) != c.Value {
			return false
		}
	}
	return true
}

// Subscription is a handle to an active feed subscription.
type Subscription interface {
	// Close stops delivery. An event already being handed to onChange may
	// still complete.
	Close()
}

// ChangeFeed is a push stream of row changes. Subscribe returns once the
// subscription is acknowledged.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string, filter Filter, onChange func(ChangeEvent)) (Subscription, error)
}
