// Package poller runs the fetch-filter-format-deliver cycle on a timer and
// owns the persisted watermark.
package poller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"chirpwatch/relay/internal/checkpoint"
	"chirpwatch/relay/internal/feed"
	"chirpwatch/relay/internal/fetch"
	"chirpwatch/relay/internal/webhook"
)

// First cycle runs shortly after startup rather than a full delay later.
const startupDelay = 2 * time.Second

// Deliverer sends one rendered payload to the webhook endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, payload webhook.Payload) error
}

// Poller holds the per-process poll state: the in-memory watermark copy, the
// store handle and the pipeline collaborators. It is the only watermark
// writer; no ambient globals exist.
type Poller struct {
	store     *checkpoint.Store
	fetcher   fetch.Fetcher
	formatter *webhook.Formatter
	deliverer Deliverer

	account string
	delay   time.Duration
	jitter  time.Duration

	watermark time.Time
}

// New assembles a poller and loads the watermark from the store, defaulting
// to the current time when none was persisted yet. A store read failure here
// is a startup failure and should be treated as fatal by the caller.
func New(store *checkpoint.Store, fetcher fetch.Fetcher, formatter *webhook.Formatter, deliverer Deliverer, account string, delay, jitter time.Duration) (*Poller, error) {
	p := &Poller{
		store:     store,
		fetcher:   fetcher,
		formatter: formatter,
		deliverer: deliverer,
		account:   account,
		delay:     delay,
		jitter:    jitter,
	}

	raw, ok, err := store.Get(checkpoint.WatermarkKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}
	if ok {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("stored watermark %q is invalid: %w", raw, err)
		}
		p.watermark = t
		log.Info().Time("watermark", t).Msg("Loaded watermark from store")
	} else {
		p.watermark = time.Now().UTC()
		log.Info().Msg("No previous watermark found, defaulting to current time")
	}
	return p, nil
}

// Run executes cycles until ctx is cancelled. A cycle failure of any kind is
// logged and never stops the loop; the next tick is armed only after the
// current cycle returns, so cycles never overlap.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(startupDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			p.cycle(ctx)

			next := p.nextDelay()
			log.Debug().Dur("next_in", next).Msg("Waiting for next poll cycle")
			timer.Reset(next)

		case <-ctx.Done():
			log.Info().Msg("Got signal to exit")
			return nil
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	start := time.Now()
	if err := p.RunCycle(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Error().Err(err).Msg("Poll cycle failed")
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("Poll cycle finished")
}

// RunCycle performs one fetch-filter-format-deliver pass. The watermark is
// advanced and persisted after filtering but before delivery is attempted:
// a delivery failure is announced at most once, never twice.
func (p *Poller) RunCycle(ctx context.Context) error {
	now := time.Now().UTC()

	items, err := p.fetcher.Fetch(ctx, p.account)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	newer := feed.Newer(items, p.watermark)

	if err := p.store.Set(checkpoint.WatermarkKey, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to persist watermark: %w", err)
	}
	p.watermark = now

	if len(newer) == 0 {
		log.Info().Msg("No new posts")
		return nil
	}

	for i, payload := range p.formatter.Render(newer) {
		if err := p.deliverer.Deliver(ctx, payload); err != nil {
			return fmt.Errorf("delivery of batch %d failed: %w", i+1, err)
		}
	}

	log.Info().Int("posts", len(newer)).Msg("Posted new posts")
	return nil
}

// Watermark returns the current in-memory watermark.
func (p *Poller) Watermark() time.Time {
	return p.watermark
}

// nextDelay returns the base delay plus up to jitter of random extra, so the
// polling pattern is not fingerprintable.
func (p *Poller) nextDelay() time.Duration {
	d := p.delay
	if p.jitter > 0 {
		d += rand.N(p.jitter)
	}
	return d
}
