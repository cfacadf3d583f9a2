package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushrelay/server/store"
	"github.com/pushrelay/server/types"
)

// Dispatcher is implemented by push.Dispatcher.
type Dispatcher interface {
	PushAll(ctx context.Context, n types.Notification) (types.PushResult, error)
	PushOne(ctx context.Context, id string, n types.Notification) (bool, error)
}

// State carries everything the handlers share.
type State struct {
	Keys          *store.KeyStore
	Secret        *store.SecretStore
	Subscriptions *store.SubscriptionStore
	Dispatcher    Dispatcher
	SessionTTL    time.Duration
	Logger        zerolog.Logger
}
