package common

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Metrics tracks the progress of one conversion: bytes moved, blocks
// exchanged and time samples carried across. Safe for concurrent use.
type Metrics struct {
	mu           sync.Mutex
	start        time.Time
	end          time.Time
	bytesIn      int64
	bytesOut     int64
	totalBytes   int64
	blocks       int64
	samples      int64
	totalSamples int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

// AddBlock records one sample block moving through the pipeline.
func (m *Metrics) AddBlock(samples int, bytesIn, bytesOut int64) {
	m.mu.Lock()
	m.blocks++
	m.samples += int64(samples)
	if bytesIn > 0 {
		m.bytesIn += bytesIn
	}
	if bytesOut > 0 {
		m.bytesOut += bytesOut
	}
	m.mu.Unlock()
}

func (m *Metrics) SetTotalBytes(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalBytes = total
	m.mu.Unlock()
}

func (m *Metrics) SetTotalSamples(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalSamples = total
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:     m.elapsedLocked(),
		BytesIn:      m.bytesIn,
		BytesOut:     m.bytesOut,
		TotalBytes:   m.totalBytes,
		Blocks:       m.blocks,
		Samples:      m.samples,
		TotalSamples: m.totalSamples,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration     time.Duration
	BytesIn      int64
	BytesOut     int64
	TotalBytes   int64
	Blocks       int64
	Samples      int64
	TotalSamples int64
}

func (s MetricsSnapshot) ThroughputBytesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.BytesIn) / s.Duration.Seconds()
}

// Completion reports progress as a ratio, preferring the sample count when
// the source header declared one.
func (s MetricsSnapshot) Completion() float64 {
	var ratio float64
	switch {
	case s.TotalSamples > 0:
		ratio = float64(s.Samples) / float64(s.TotalSamples)
	case s.TotalBytes > 0:
		ratio = float64(s.BytesIn) / float64(s.TotalBytes)
	default:
		return 0
	}
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	throughput := s.ThroughputBytesPerSecond() / (1024 * 1024)
	if s.TotalSamples > 0 || s.TotalBytes > 0 {
		pct := s.Completion() * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			pct = 0
		}
		return fmt.Sprintf("Progress: %6.2f%% (%s in, %s out) %.2f MiB/s", pct, FormatBytes(s.BytesIn), FormatBytes(s.BytesOut), throughput)
	}
	return fmt.Sprintf("Processed: %d samples (%s in, %s out) %.2f MiB/s", s.Samples, FormatBytes(s.BytesIn), FormatBytes(s.BytesOut), throughput)
}

// StartProgressPrinter periodically rewrites a progress line on w until the
// returned stop function is called.
func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
