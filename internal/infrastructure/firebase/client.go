package firebase

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCM rejects multicast batches above 500 tokens.
const multicastBatchSize = 500

// TokenDeactivator retires a device token the push service reports as dead.
// Injected so this package does not depend on the device token repository.
type TokenDeactivator func(ctx context.Context, token string) error

// Client delivers the bank-link and invitation pushes over Firebase Cloud
// Messaging. It satisfies notification.Messenger.
type Client struct {
	fcm        *messaging.Client
	deactivate TokenDeactivator
}

// NewClient builds the FCM client from a service account credentials file.
// deactivate may be nil when token cleanup is not wanted.
func NewClient(ctx context.Context, credentialsFile string, deactivate TokenDeactivator) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	fcm, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}
	return &Client{fcm: fcm, deactivate: deactivate}, nil
}

// Send pushes one message to one device token.
func (c *Client) Send(ctx context.Context, token string, title, body string, data map[string]string) error {
	_, err := c.fcm.Send(ctx, &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		if tokenIsDead(err) {
			c.retireToken(ctx, token)
			return fmt.Errorf("invalid token: %w", err)
		}
		return fmt.Errorf("failed to send push message: %w", err)
	}
	return nil
}

// SendMulticast pushes the same message to every token, split into batches
// the FCM API accepts. Dead tokens found in the responses are retired; other
// per-token failures are logged and do not fail the whole send.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	var sent, failed int
	for start := 0; start < len(tokens); start += multicastBatchSize {
		end := start + multicastBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		resp, err := c.fcm.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         data,
		})
		if err != nil {
			return fmt.Errorf("failed to send push multicast: %w", err)
		}

		sent += resp.SuccessCount
		failed += resp.FailureCount
		for i, r := range resp.Responses {
			if r.Error == nil {
				continue
			}
			if tokenIsDead(r.Error) {
				c.retireToken(ctx, batch[i])
			} else {
				log.Printf("Push send failed for token %s: %v", batch[i], r.Error)
			}
		}
	}

	if len(tokens) > 0 {
		log.Printf("Push multicast: %d sent, %d failed", sent, failed)
	}
	return nil
}

func tokenIsDead(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
}

func (c *Client) retireToken(ctx context.Context, token string) {
	if c.deactivate == nil {
		return
	}
	log.Printf("Retiring dead device token %s", token)
	if err := c.deactivate(ctx, token); err != nil {
		log.Printf("Failed to retire device token %s: %v", token, err)
	}
}
