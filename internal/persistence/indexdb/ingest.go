package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"farmersfright.gg/internal/session"
)

// IngestConfig configures the remote match index. Events are POSTed in
// batches to Endpoint as {"events":[...]}.
type IngestConfig struct {
	Endpoint      string
	Token         string
	Source        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        zerolog.Logger
}

type IngestStats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	QueueDroppedTotal uint64 `json:"queue_dropped_total"`
	FlushFailTotal    uint64 `json:"flush_fail_total"`
	SentTotal         uint64 `json:"sent_total"`
	Pending           int    `json:"pending"`
}

// IngestIndex ships match index records to an HTTP ingest endpoint.
type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropped   atomic.Uint64
	flushFail atomic.Uint64
	sent      atomic.Uint64
	pending   atomic.Int64
}

type ingestEvent struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	MatchID string `json:"match_id"`
	Payload any    `json:"payload"`
}

type ingestMatchPayload struct {
	Mode      string         `json:"mode"`
	StartedAt string         `json:"started_at"`
	Seats     []session.Seat `json:"seats,omitempty"`
}

type ingestActionPayload struct {
	PlayerID int    `json:"player_id"`
	Action   string `json:"action"`
}

type ingestEndPayload struct {
	EndedAt string `json:"ended_at"`
	Reason  string `json:"reason"`
}

// maxRetained bounds how many batches' worth of events survive repeated
// flush failures.
const maxRetained = 8

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Source = strings.TrimSpace(cfg.Source)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.Source == "" {
		cfg.Source = "farmersfright"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() IngestStats {
	return IngestStats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		QueueDroppedTotal: d.dropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
		Pending:           int(d.pending.Load()),
	}
}

func (d *IngestIndex) RecordMatchStart(m session.MatchRecord) {
	d.enqueue(ingestEvent{Kind: "match_start", MatchID: m.ID, Payload: ingestMatchPayload{
		Mode:      m.Mode,
		StartedAt: m.StartedAt.UTC().Format(time.RFC3339Nano),
		Seats:     m.Seats,
	}})
}

func (d *IngestIndex) RecordSeat(matchID string, seat session.Seat) {
	d.enqueue(ingestEvent{Kind: "seat", MatchID: matchID, Payload: seat})
}

func (d *IngestIndex) RecordAction(matchID string, playerID int, action string) {
	d.enqueue(ingestEvent{Kind: "action", MatchID: matchID, Payload: ingestActionPayload{PlayerID: playerID, Action: action}})
}

func (d *IngestIndex) RecordMatchEnd(matchID string, endedAt time.Time, reason string) {
	d.enqueue(ingestEvent{Kind: "match_end", MatchID: matchID, Payload: ingestEndPayload{
		EndedAt: endedAt.UTC().Format(time.RFC3339Nano),
		Reason:  reason,
	}})
}

func (d *IngestIndex) enqueue(ev ingestEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	ev.Source = d.cfg.Source
	select {
	case d.ch <- ev:
	default:
		d.dropped.Add(1)
		d.cfg.Logger.Warn().Str("kind", ev.Kind).Str("match", ev.MatchID).Msg("ingest queue full; drop")
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.cfg.Logger.Error().Err(err).Int("batch", len(batch)).Msg("ingest flush failed")
			// Keep the batch for the next flush, trimming the oldest past the cap.
			if limit := maxRetained * d.cfg.BatchSize; len(batch) > limit {
				over := len(batch) - limit
				d.dropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			d.pending.Store(int64(len(batch)))
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
		d.pending.Store(0)
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			d.pending.Store(int64(len(batch)))
			if len(batch)%d.cfg.BatchSize == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []ingestEvent) error {
	body := struct {
		Events []ingestEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-ff-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
