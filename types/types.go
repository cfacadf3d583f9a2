package types

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	Subject    string `json:"subject"`
}

// Subscription is one stored push subscriber.
type Subscription struct {
	Endpoint  webpush.Subscription `json:"subscription"`
	CreatedAt time.Time            `json:"createdAt"`
	Name      string               `json:"name,omitempty"`
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type PushResult struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

type SubscribeRequest struct {
	ID           string               `json:"id"`
	Subscription webpush.Subscription `json:"subscription"`
	Name         string               `json:"name,omitempty"`
	Secret       string               `json:"secret"`
}

type UnsubscribeRequest struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type SessionRequest struct {
	Secret string `json:"secret"`
}

type SessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}
