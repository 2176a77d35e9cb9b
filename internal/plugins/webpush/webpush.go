package webpush

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"pok7/internal/config"
	"pok7/internal/core/domain"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Sender delivers encrypted payloads to browser push services with VAPID.
type Sender struct {
	log        *slog.Logger
	client     *http.Client
	subject    string
	publicKey  string
	privateKey string
	ttl        int
}

// NewSender generates an ephemeral VAPID key pair when none is configured.
// Subscriptions made against ephemeral keys do not survive a restart.
func NewSender(log *slog.Logger, cfg config.WebPushConfig) (*Sender, error) {
	s := &Sender{
		log:        log,
		client:     &http.Client{Timeout: cfg.Timeout},
		subject:    cfg.Subject,
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		ttl:        cfg.TTL,
	}
	if s.publicKey == "" || s.privateKey == "" {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("generate vapid keys: %w", err)
		}
		s.privateKey, s.publicKey = priv, pub
		log.Warn("webpush - vapid keys missing - using ephemeral pair")
	}
	return s, nil
}

func (s *Sender) VAPIDPublicKey() string {
	return s.publicKey
}

func (s *Sender) Send(ctx context.Context, sub domain.PushSubscription, payload []byte) error {
	if sub.Endpoint == "" {
		return errors.New("webpush: empty endpoint")
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subject,
		TTL:             s.ttl,
		Urgency:         webpush.UrgencyHigh,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
	})
	if err != nil {
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", domain.ErrSubscriptionExpired, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webpush send: status %d: %s", resp.StatusCode, body)
	}
	return nil
}
