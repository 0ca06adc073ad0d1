// Package store provides crash-safe snapshot persistence as a CSV spool.
//
// Synchronized snapshots accumulate in memory and are flushed to a CSV
// file as a batch. Flush writes to a .tmp file first, then renames over
// the target, so a crash mid-write never leaves a truncated file for a
// downstream reader to trip over. This is the atomic tmp+rename
// discipline the teacher uses for position files, adapted here to a
// columnar export rather than one-file-per-key.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/mx-town/updown-engine/pkg/types"
)

var header = []string{
	"timestamp_ms",
	"direct_spot_price", "direct_spot_ts",
	"venue_spot_price", "venue_spot_ts",
	"venue_oracle_price", "venue_oracle_ts",
	"chain_oracle_price", "chain_oracle_ts",
	"lag_ms", "divergence_pct",
}

// Spool buffers SynchronizedSnapshot rows in memory and flushes them to
// a CSV file on demand. All operations are mutex-protected.
type Spool struct {
	dir string
	mu  sync.Mutex
	buf [][]string
}

// Open creates a spool backed by the given directory, creating it if
// necessary.
func Open(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir}, nil
}

// Add appends one snapshot to the in-memory buffer. Cheap; does not
// touch disk.
func (s *Spool) Add(snap types.SynchronizedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, rowFor(snap))
}

// Buffered reports how many snapshots are waiting to be flushed.
func (s *Spool) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Flush writes every buffered row to filename under the spool directory
// and clears the buffer. The write is atomic: it lands in a .tmp file
// first, then is renamed over the target. Returns the number of rows
// written.
func (s *Spool) Flush(filename string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return 0, nil
	}

	path := filepath.Join(s.dir, filename)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create spool tmp file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return 0, fmt.Errorf("write spool header: %w", err)
	}
	for _, row := range s.buf {
		if err := w.Write(row); err != nil {
			f.Close()
			return 0, fmt.Errorf("write spool row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return 0, fmt.Errorf("flush spool csv writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close spool tmp file: %w", err)
	}

	n := len(s.buf)
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("rename spool file: %w", err)
	}
	s.buf = nil
	return n, nil
}

func rowFor(snap types.SynchronizedSnapshot) []string {
	row := make([]string, len(header))
	row[0] = strconv.FormatInt(snap.TimestampMs, 10)

	fill := func(idxPrice, idxTs int, u *types.PriceUpdate) {
		if u == nil {
			row[idxPrice], row[idxTs] = "", ""
			return
		}
		row[idxPrice] = strconv.FormatFloat(u.Price, 'f', -1, 64)
		row[idxTs] = strconv.FormatInt(u.TimestampMs, 10)
	}

	if p, ok := snap.Prices[types.DirectSpot]; ok {
		fill(1, 2, &p)
	} else {
		fill(1, 2, nil)
	}
	if p, ok := snap.Prices[types.VenueSpot]; ok {
		fill(3, 4, &p)
	} else {
		fill(3, 4, nil)
	}
	if p, ok := snap.Prices[types.VenueOracle]; ok {
		fill(5, 6, &p)
	} else {
		fill(5, 6, nil)
	}
	if p, ok := snap.Prices[types.ChainOracle]; ok {
		fill(7, 8, &p)
	} else {
		fill(7, 8, nil)
	}

	if lag, ok := snap.LagMs(); ok {
		row[9] = strconv.FormatInt(lag, 10)
	}
	if pct, ok := snap.DivergencePct(); ok {
		row[10] = strconv.FormatFloat(pct, 'f', -1, 64)
	}
	return row
}
