package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/findmydocs/backend/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client sends push notifications through Firebase Cloud Messaging.
type Client struct {
	msgClient *messaging.Client
	logger    *zap.Logger
}

var _ domain.PushSender = (*Client)(nil)

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("No Firebase credentials file provided. FCM will use GOOGLE_APPLICATION_CREDENTIALS or default credentials.")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// Send delivers one notification. Tokens FCM no longer knows are reported as
// domain.ErrPushTokenInvalid so callers can forget them.
func (c *Client) Send(ctx context.Context, token string, title, body string, data map[string]string) error {
	if token == "" {
		return nil
	}

	_, err := c.msgClient.Send(ctx, buildMessage(token, title, body, data))
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			return fmt.Errorf("%w: %v", domain.ErrPushTokenInvalid, err)
		}
		c.logger.Error("Failed to send FCM message", zap.Error(err))
		return err
	}
	return nil
}

func buildMessage(token, title, body string, data map[string]string) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "findmydocs_default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
}
