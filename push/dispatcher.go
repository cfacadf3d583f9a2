// Package push fans notifications out to stored subscribers and prunes the
// ones whose push service reports them gone.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pushrelay/server/types"
)

// Subscriptions is the part of the subscription store the dispatcher reads
// and prunes.
type Subscriptions interface {
	List() map[string]types.Subscription
	Get(id string) (types.Subscription, bool)
	RemoveAll(ids []string) (int, error)
}

type Dispatcher struct {
	subs        Subscriptions
	sender      Sender
	concurrency int
	logger      zerolog.Logger
}

// NewDispatcher builds a Dispatcher. concurrency <= 0 issues every delivery
// at once.
func NewDispatcher(subs Subscriptions, sender Sender, concurrency int, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		subs:        subs,
		sender:      sender,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// PushAll delivers n to every subscriber in the current snapshot. Gone
// subscribers are removed afterwards with a single write; other failures
// are only counted.
func (d *Dispatcher) PushAll(ctx context.Context, n types.Notification) (types.PushResult, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return types.PushResult{}, fmt.Errorf("encode notification: %w", err)
	}

	snapshot := d.subs.List()
	if len(snapshot) == 0 {
		return types.PushResult{}, nil
	}

	var (
		mu     sync.Mutex
		result types.PushResult
		gone   []string
	)

	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for id, sub := range snapshot {
		id, sub := id, sub
		g.Go(func() error {
			err := d.sender.Send(ctx, sub.Endpoint, payload)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Success++
			case IsGone(err):
				result.Failed++
				gone = append(gone, id)
				d.logger.Info().Str("id", id).Err(err).Msg("Subscriber gone, pruning")
			default:
				result.Failed++
				d.logger.Warn().Str("id", id).Err(err).Msg("Delivery failed")
			}
			return nil
		})
	}
	// Workers record failures in result and never return an error.
	_ = g.Wait()

	d.prune(gone)
	d.logger.Info().
		Int("success", result.Success).
		Int("failed", result.Failed).
		Int("pruned", len(gone)).
		Msg("Broadcast complete")
	return result, nil
}

// PushOne delivers n to a single subscriber. It returns false without
// sending when id is unknown.
func (d *Dispatcher) PushOne(ctx context.Context, id string, n types.Notification) (bool, error) {
	sub, ok := d.subs.Get(id)
	if !ok {
		return false, nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("encode notification: %w", err)
	}

	err = d.sender.Send(ctx, sub.Endpoint, payload)
	switch {
	case err == nil:
		return true, nil
	case IsGone(err):
		d.logger.Info().Str("id", id).Err(err).Msg("Subscriber gone, pruning")
		d.prune([]string{id})
	default:
		d.logger.Warn().Str("id", id).Err(err).Msg("Delivery failed")
	}
	return false, nil
}

func (d *Dispatcher) prune(ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := d.subs.RemoveAll(ids); err != nil {
		d.logger.Error().Err(err).Strs("ids", ids).Msg("Failed to persist pruned subscriptions")
	}
}
