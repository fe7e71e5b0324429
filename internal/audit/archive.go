// Package audit archives FEI audit trails as immutable JSON Lines objects.
//
// Each write produces a new object under audit/<numero>/ so that archived
// history is never rewritten. Reading merges every object of a FEI and
// drops entries seen in an earlier object.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"zacharie/internal/blob"
	"zacharie/internal/core"
)

const (
	contentType = "application/x-ndjson"
	keyPrefix   = "audit/"
)

// Source lists the audit trail of a FEI. *core.Service satisfies it.
type Source interface {
	ListAudit(ctx context.Context, numero string) ([]core.AuditEntry, error)
}

// Observer is told how many entries each write archived.
type Observer interface {
	ObserveArchived(n int)
}

// Archive writes and reads audit objects in a blob store.
type Archive struct {
	store    blob.Store
	now      func() time.Time
	newID    func() string
	observer Observer
}

// Option configures an Archive.
type Option func(*Archive)

// WithObserver reports archived entry counts, e.g. to metrics.
func WithObserver(o Observer) Option {
	return func(a *Archive) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithClock overrides the time used in object keys.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// NewArchive returns an archive over store.
func NewArchive(store blob.Store, opts ...Option) *Archive {
	a := &Archive{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Prefix returns the key prefix holding the objects of a FEI.
func Prefix(numero string) string {
	return keyPrefix + numero + "/"
}

func (a *Archive) key(numero string) string {
	return Prefix(numero) + a.now().UTC().Format("20060102T150405.000000000Z") + "-" + a.newID() + ".jsonl"
}

// Write stores entries of one FEI as a new object. Writing nothing is a
// no-op returning a zero Info.
func (a *Archive) Write(ctx context.Context, numero string, entries []core.AuditEntry) (blob.Info, error) {
	if strings.TrimSpace(numero) == "" {
		return blob.Info{}, fmt.Errorf("audit archive: fei numero required")
	}
	if len(entries) == 0 {
		return blob.Info{}, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if entry.FeiNumero != numero {
			return blob.Info{}, fmt.Errorf("audit archive: entry %s belongs to %s, not %s", entry.ID, entry.FeiNumero, numero)
		}
		if err := enc.Encode(entry); err != nil {
			return blob.Info{}, fmt.Errorf("encode audit entry %s: %w", entry.ID, err)
		}
	}
	info, err := a.store.Put(ctx, a.key(numero), &buf, blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"fei":     numero,
			"entries": fmt.Sprint(len(entries)),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive audit of %s: %w", numero, err)
	}
	if a.observer != nil {
		a.observer.ObserveArchived(len(entries))
	}
	return info, nil
}

// Read returns every archived entry of a FEI ordered by creation time.
func (a *Archive) Read(ctx context.Context, numero string) ([]core.AuditEntry, error) {
	infos, err := a.store.List(ctx, Prefix(numero))
	if err != nil {
		return nil, fmt.Errorf("list audit objects of %s: %w", numero, err)
	}
	seen := map[string]struct{}{}
	var out []core.AuditEntry
	for _, info := range infos {
		entries, err := a.readObject(ctx, info.Key)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			seen[entry.ID] = struct{}{}
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (a *Archive) readObject(ctx context.Context, key string) (entries []core.AuditEntry, err error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.Join(err, rc.Close()) }()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var entry core.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("decode %s line %d: %w", key, line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return entries, nil
}

// ArchiveFei copies the entries of a FEI that are not archived yet and
// returns how many were written.
func (a *Archive) ArchiveFei(ctx context.Context, src Source, numero string) (int, error) {
	entries, err := src.ListAudit(ctx, numero)
	if err != nil {
		return 0, err
	}
	archived, err := a.Read(ctx, numero)
	if err != nil {
		return 0, err
	}
	done := make(map[string]struct{}, len(archived))
	for _, entry := range archived {
		done[entry.ID] = struct{}{}
	}
	var fresh []core.AuditEntry
	for _, entry := range entries {
		if _, ok := done[entry.ID]; !ok {
			fresh = append(fresh, entry)
		}
	}
	if _, err := a.Write(ctx, numero, fresh); err != nil {
		return 0, err
	}
	return len(fresh), nil
}
