package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"farmersfright.gg/internal/game"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	MatchID   string `json:"match_id"`
	Tick      uint64 `json:"tick"`
	CreatedAt int64  `json:"created_at_ms"`
}

// SnapshotV1 is a point-in-time dump of a session for inspection. Sessions
// never load one back.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate int   `json:"tick_rate_hz"`
	GameTime int64 `json:"game_time_ms"`
	Running  bool  `json:"running"`

	Objects []game.Object       `json:"objects"`
	Players map[int]game.Player `json:"players"`

	// Seats maps player id to the connection holding it.
	Seats        map[int]string    `json:"seats,omitempty"`
	Connections  int               `json:"connections"`
	ActionCounts map[string]uint64 `json:"action_counts,omitempty"`
}

// Path is the conventional file name for a snapshot under dir.
func Path(dir string, h Header) string {
	id := h.MatchID
	if id == "" {
		id = "idle"
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%d.snap.zst", id, h.Tick))
}

// WriteSnapshot writes a header line followed by the JSON body, zstd
// compressed. The header can be read without decoding the body.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()

	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// List returns the snapshot files in dir, oldest name first.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 256*1024), func() {
		dec.Close()
		_ = f.Close()
	}, nil
}
