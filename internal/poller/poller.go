// Package poller drives the pull-style source: on a fixed interval it asks
// a RegisterReader for the device's current register map and hands the raw
// payload to the ingest sink. Read failures are logged and skipped; the
// liveness sweep surfaces a device that stays silent.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RegisterReader fetches one raw register snapshot from the device.
type RegisterReader interface {
	ReadRegisters(ctx context.Context) (json.RawMessage, error)
}

// Sink accepts raw payloads for processing.
type Sink interface {
	Ingest(ctx context.Context, sourceID string, raw json.RawMessage, receivedAt time.Time) error
}

// Poller polls one device on a fixed cadence.
type Poller struct {
	sourceID string
	reader   RegisterReader
	sink     Sink
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func New(sourceID string, reader RegisterReader, sink Sink, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		sourceID: sourceID,
		reader:   reader,
		sink:     sink,
		interval: interval,
		log:      log.With().Str("component", "poller").Str("source", sourceID).Logger(),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. One poll happens immediately so a fresh
// start does not wait a full interval for its first reading.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	raw, err := p.reader.ReadRegisters(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn().Err(err).Msg("register read failed")
		return
	}

	if err := p.sink.Ingest(ctx, p.sourceID, raw, p.now()); err != nil {
		p.log.Warn().Err(err).Msg("poll ingest failed")
	}
}

// HTTPReader reads the register map from a bridge endpoint that answers a
// GET with a JSON object of register values.
type HTTPReader struct {
	URL    string
	Client *http.Client
}

func (r *HTTPReader) ReadRegisters(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("poller: build request: %w", err)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poller: read registers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poller: read registers: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("poller: read body: %w", err)
	}
	return raw, nil
}
