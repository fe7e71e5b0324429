package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"zacharie/internal/core"
)

// Sink buffers committed audit entries and archives them per FEI on Flush.
// It implements core.AuditSink.
type Sink struct {
	archive *Archive
	logger  core.Logger

	mu      sync.Mutex
	pending map[string][]core.AuditEntry
}

var _ core.AuditSink = (*Sink)(nil)

// NewSink returns a sink writing to archive.
func NewSink(archive *Archive, logger core.Logger) *Sink {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return &Sink{archive: archive, logger: logger, pending: map[string][]core.AuditEntry{}}
}

// Record buffers entry until the next flush. Entries that are not attached
// to a FEI, such as reference data loads, are not archived.
func (s *Sink) Record(_ context.Context, entry core.AuditEntry) {
	if entry.FeiNumero == "" {
		return
	}
	s.mu.Lock()
	s.pending[entry.FeiNumero] = append(s.pending[entry.FeiNumero], entry)
	s.mu.Unlock()
}

// Pending returns the number of buffered entries.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entries := range s.pending {
		n += len(entries)
	}
	return n
}

// Flush writes one object per buffered FEI. Batches that fail stay buffered
// for the next flush.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batches := s.pending
	s.pending = map[string][]core.AuditEntry{}
	s.mu.Unlock()

	numeros := make([]string, 0, len(batches))
	for numero := range batches {
		numeros = append(numeros, numero)
	}
	sort.Strings(numeros)

	var errs []error
	for _, numero := range numeros {
		if _, err := s.archive.Write(ctx, numero, batches[numero]); err != nil {
			s.logger.Error("archive audit", "fei_numero", numero, "entries", len(batches[numero]), "error", err)
			s.requeue(numero, batches[numero])
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) requeue(numero string, entries []core.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[numero] = append(entries, s.pending[numero]...)
}

// Run flushes every interval until ctx is done, then flushes once more.
func (s *Sink) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Flush(context.WithoutCancel(ctx))
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.Warn("audit flush incomplete", "pending", s.Pending())
			}
		}
	}
}
