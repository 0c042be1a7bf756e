package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"farmersfright.gg/internal/config"
	"farmersfright.gg/internal/persistence/indexdb"
	"farmersfright.gg/internal/session"
)

type runtimeIndex interface {
	session.MatchIndex
	Close() error
}

func openRuntimeIndex(cfg config.Config, logger zerolog.Logger) (runtimeIndex, error) {
	if cfg.DisableDB {
		return nil, nil
	}
	switch cfg.IndexBackend {
	case config.IndexNone:
		return nil, nil
	case config.IndexSQLite:
		return indexdb.OpenSQLite(cfg.IndexPath())
	case config.IndexIngest:
		return indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      cfg.IngestURL,
			Token:         cfg.IngestToken,
			Source:        "farmersfright",
			BatchSize:     cfg.IngestBatchSize,
			FlushInterval: time.Duration(cfg.IngestFlushMs) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.IndexBackend)
	}
}

func writeIndexMetrics(w io.Writer, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		fmt.Fprintf(w, "# HELP ff_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(w, "# TYPE ff_index_queue_depth gauge\n")
		fmt.Fprintf(w, "ff_index_queue_depth{backend=\"sqlite\"} %d\n", s.QueueDepth)
		fmt.Fprintf(w, "# HELP ff_index_dropped_total Index records dropped because the writer fell behind.\n")
		fmt.Fprintf(w, "# TYPE ff_index_dropped_total counter\n")
		fmt.Fprintf(w, "ff_index_dropped_total{backend=\"sqlite\",kind=%q} %d\n", "match", s.DropMatch)
		fmt.Fprintf(w, "ff_index_dropped_total{backend=\"sqlite\",kind=%q} %d\n", "seat", s.DropSeat)
		fmt.Fprintf(w, "ff_index_dropped_total{backend=\"sqlite\",kind=%q} %d\n", "action", s.DropAction)
		fmt.Fprintf(w, "ff_index_dropped_total{backend=\"sqlite\",kind=%q} %d\n", "end", s.DropEnd)
	case *indexdb.IngestIndex:
		s := x.Stats()
		fmt.Fprintf(w, "# HELP ff_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(w, "# TYPE ff_index_queue_depth gauge\n")
		fmt.Fprintf(w, "ff_index_queue_depth{backend=\"ingest\"} %d\n", s.QueueDepth)
		fmt.Fprintf(w, "# HELP ff_index_dropped_total Index records dropped because the writer fell behind.\n")
		fmt.Fprintf(w, "# TYPE ff_index_dropped_total counter\n")
		fmt.Fprintf(w, "ff_index_dropped_total{backend=\"ingest\",kind=\"all\"} %d\n", s.QueueDroppedTotal)
		fmt.Fprintf(w, "# HELP ff_index_ingest_flush_fail_total Failed ingest flushes after retry.\n")
		fmt.Fprintf(w, "# TYPE ff_index_ingest_flush_fail_total counter\n")
		fmt.Fprintf(w, "ff_index_ingest_flush_fail_total %d\n", s.FlushFailTotal)
		fmt.Fprintf(w, "# HELP ff_index_ingest_sent_total Records delivered to the ingest endpoint.\n")
		fmt.Fprintf(w, "# TYPE ff_index_ingest_sent_total counter\n")
		fmt.Fprintf(w, "ff_index_ingest_sent_total %d\n", s.SentTotal)
		fmt.Fprintf(w, "# HELP ff_index_ingest_pending Records retained for retry.\n")
		fmt.Fprintf(w, "# TYPE ff_index_ingest_pending gauge\n")
		fmt.Fprintf(w, "ff_index_ingest_pending %d\n", s.Pending)
	}
}
