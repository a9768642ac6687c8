package domain

import (
	"context"
	"errors"
)

// Tables that emit change events.
const (
	TableMessages      = "messages"
	TableNotifications = "notifications"
)

// ChangeOp is the kind of row change carried by a change event.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
)

// ChangePublisher receives row changes written by this process. It is only
// wired when the change feed is not driven by the database itself.
type ChangePublisher interface {
	PublishChange(table string, op ChangeOp, record any)
}

// ErrPushTokenInvalid is returned by a PushSender when the device token is no
// longer registered.
var ErrPushTokenInvalid = errors.New("push token is no longer valid")

// PushSender delivers a push notification to one device.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}
