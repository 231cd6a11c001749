package chunktimers

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DefaultMaxSamples bounds the in-memory ring to roughly a day of 60s
// buckets, the same order of magnitude as the original csstats.mfs
// fixed-size ring.
const DefaultMaxSamples = 1440

// Sample is one chart bucket: spec.md §6's "time-bucketed counters".
type Sample struct {
	Timestamp      int64 `json:"ts"`
	FreeBytes      int64 `json:"free_bytes"`
	DamagedDisks   int   `json:"damaged_disks"`
	DefectivePeers int   `json:"defective_peers"`
}

// Chart is the mutex-protected, fixed-capacity ring of Samples that
// backs the periodically rewritten csstats.mfs-equivalent charts
// database (spec.md §6 "Persisted state").
type Chart struct {
	mu      sync.Mutex
	samples []Sample
	max     int
}

func NewChart(max int) *Chart {
	if max <= 0 {
		max = DefaultMaxSamples
	}
	return &Chart{max: max}
}

// Append adds one sample, evicting the oldest once the ring is full.
func (c *Chart) Append(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
	if len(c.samples) > c.max {
		c.samples = c.samples[len(c.samples)-c.max:]
	}
}

// Samples returns a copy of every bucket currently held, oldest first.
func (c *Chart) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Save persists the chart as zstd-compressed JSON, the csstats.mfs
// stand-in (spec.md §6: "a periodically rewritten csstats.mfs charts
// database"). Written to a temp file and renamed into place so a
// concurrent reader (or a crash mid-write) never observes a partial
// file — the same atomic-rename discipline C2 uses for chunk commits.
func (c *Chart) Save(path string) error {
	samples := c.Samples()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create chart db: %w", err)
	}
	defer os.Remove(tmp)

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("create chart db encoder: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(samples); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("encode chart db: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flush chart db: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close chart db: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the in-memory ring with the contents of a chart
// database previously written by Save.
func (c *Chart) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chart db: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create chart db decoder: %w", err)
	}
	defer dec.Close()

	var samples []Sample
	if err := json.NewDecoder(io.Reader(dec)).Decode(&samples); err != nil {
		return fmt.Errorf("decode chart db: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(samples) > c.max {
		samples = samples[len(samples)-c.max:]
	}
	c.samples = samples
	return nil
}
