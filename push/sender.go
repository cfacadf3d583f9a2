package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/pushrelay/server/types"
)

// Sender delivers one encrypted payload to one subscriber.
type Sender interface {
	Send(ctx context.Context, sub webpush.Subscription, payload []byte) error
}

// DeliveryError is a failed delivery. StatusCode is zero when the push
// service was never reached.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("push delivery failed: %v", e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("push service responded %d", e.StatusCode)
	}
	return fmt.Sprintf("push service responded %d: %v", e.StatusCode, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsGone reports whether err says the endpoint no longer exists.
func IsGone(err error) bool {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return false
	}
	return de.StatusCode == http.StatusNotFound || de.StatusCode == http.StatusGone
}

type WebPushOptions struct {
	TTL     int
	Urgency string
	Client  *http.Client
}

// WebPushSender signs with the relay's VAPID key and hands the message to
// webpush-go for encryption and transport.
type WebPushSender struct {
	keys types.KeyPair
	opts WebPushOptions
}

func NewWebPushSender(keys types.KeyPair, opts WebPushOptions) *WebPushSender {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &WebPushSender{keys: keys, opts: opts}
}

// vapidSubscriber converts a VAPID subject into the form webpush-go expects.
// The library prepends "mailto:" to anything that is not an https: URL.
func vapidSubscriber(subject string) string {
	return strings.TrimPrefix(subject, "mailto:")
}

func (s *WebPushSender) Send(ctx context.Context, sub webpush.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      s.opts.Client,
		Subscriber:      vapidSubscriber(s.keys.Subject),
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             s.opts.TTL,
		Urgency:         webpush.Urgency(s.opts.Urgency),
	})
	if err != nil {
		return &DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	de := &DeliveryError{StatusCode: resp.StatusCode}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		de.Err = errors.New(msg)
	}
	return de
}
