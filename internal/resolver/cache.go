// internal/resolver/cache.go
package resolver

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/labcore/internal/extract"
)

// ErrCacheUnavailable is returned when no order export has been loaded.
var ErrCacheUnavailable = errors.New("order cache unavailable")

// Record is one order row of the exported cache.
type Record struct {
	OrderNumber string   `json:"numero_orden"`
	Date        string   `json:"fecha"`
	PatientName string   `json:"paciente"`
	FirstNames  string   `json:"nombres,omitempty"`
	LastNames   string   `json:"apellidos,omitempty"`
	PatientID   string   `json:"cedula,omitempty"`
	ExamCodes   []string `json:"examenes,omitempty"`
	Total       string   `json:"total,omitempty"`

	// seq is the row position, the recency tiebreak of last resort.
	seq int
	at  time.Time
}

type column int

const (
	colOrder column = iota
	colDate
	colName
	colFirst
	colLast
	colID
	colExams
	colTotal
)

// headerAliases maps folded header names, spaces as underscores, to columns.
var headerAliases = map[string]column{
	"numero_orden": colOrder, "numero_de_orden": colOrder, "orden": colOrder, "nro_orden": colOrder, "no_orden": colOrder,
	"order_number": colOrder, "order": colOrder, "numero": colOrder,
	"fecha": colDate, "fecha_orden": colDate, "date": colDate, "created_at": colDate,
	"paciente": colName, "nombre_paciente": colName, "nombre_completo": colName,
	"patient_name": colName, "patient": colName, "nombre": colName,
	"nombres": colFirst, "first_name": colFirst, "first_names": colFirst,
	"apellidos": colLast, "last_name": colLast, "last_names": colLast,
	"cedula": colID, "identificacion": colID, "documento": colID, "patient_id": colID, "dni": colID,
	"examenes": colExams, "codigos": colExams, "exam_codes": colExams, "exams": colExams,
	"total": colTotal, "valor": colTotal, "valor_total": colTotal,
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseCSV reads an order export. Headers are matched by alias, ignoring case
// and accents; only a patient name column (or first/last names) is required.
// Comma and semicolon delimiters are both accepted.
func ParseCSV(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read order export: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read order export header: %w", err)
	}
	cols := make(map[column]int)
	for i, h := range header {
		key := strings.ReplaceAll(extract.Fold(h), " ", "_")
		if c, ok := headerAliases[key]; ok {
			if _, dup := cols[c]; !dup {
				cols[c] = i
			}
		}
	}
	_, hasName := cols[colName]
	_, hasFirst := cols[colFirst]
	_, hasLast := cols[colLast]
	if !hasName && !hasFirst && !hasLast {
		return nil, fmt.Errorf("order export has no patient name column (header: %v)", header)
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read order export line %d: %w", line, err)
		}
		get := func(c column) string {
			i, ok := cols[c]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		rec := Record{
			OrderNumber: get(colOrder),
			Date:        get(colDate),
			PatientName: get(colName),
			FirstNames:  get(colFirst),
			LastNames:   get(colLast),
			PatientID:   get(colID),
			Total:       get(colTotal),
			seq:         len(out),
		}
		if rec.PatientName == "" {
			rec.PatientName = strings.TrimSpace(rec.FirstNames + " " + rec.LastNames)
		}
		if rec.PatientName == "" {
			continue
		}
		if codes := get(colExams); codes != "" {
			rec.ExamCodes = strings.FieldsFunc(codes, func(r rune) bool { return r == ',' || r == '|' || r == ';' || r == ' ' })
		}
		rec.at = parseDate(rec.Date)
		out = append(out, rec)
	}
	return out, nil
}

func sniffDelimiter(data []byte) rune {
	first := string(data)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}

// newerThan orders records most recent first: by parsed date, then by
// numeric order number, then by position in the export.
func newerThan(a, b Record) bool {
	if !a.at.Equal(b.at) {
		return a.at.After(b.at)
	}
	na, errA := strconv.ParseInt(a.OrderNumber, 10, 64)
	nb, errB := strconv.ParseInt(b.OrderNumber, 10, 64)
	if errA == nil && errB == nil && na != nb {
		return na > nb
	}
	return a.seq > b.seq
}

// Cache holds the parsed export in memory and reloads it when the file
// changes. Concurrent reloads are coalesced.
type Cache struct {
	path     string
	interval time.Duration
	logger   *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	records []Record
	modTime time.Time
	size    int64
	loaded  bool
}

// NewCache creates a cache over path. Nothing is read until Load.
func NewCache(path string, reloadInterval time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		path:     path,
		interval: reloadInterval,
		logger:   logger.Named("resolver_cache").With(zap.String("path", path)),
	}
}

// Load reads the export from disk. A failed reload keeps the previous
// records; the error is still returned.
func (c *Cache) Load(ctx context.Context) error {
	_, err, _ := c.group.Do("load", func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, c.load()
	})
	return err
}

func (c *Cache) load() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	records, err := ParseCSV(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	c.mu.Lock()
	c.records = records
	c.modTime = info.ModTime()
	c.size = info.Size()
	c.loaded = true
	c.mu.Unlock()
	c.logger.Info("Order cache loaded.", zap.Int("records", len(records)))
	return nil
}

// Records returns the loaded rows, loading them on first use.
func (c *Cache) Records(ctx context.Context) ([]Record, error) {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if !loaded {
		if err := c.Load(ctx); err != nil {
			return nil, err
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records, nil
}

// Refresh reloads the export when its size or modification time changed.
// It reports whether a reload happened.
func (c *Cache) Refresh(ctx context.Context) (bool, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	c.mu.RLock()
	same := c.loaded && info.ModTime().Equal(c.modTime) && info.Size() == c.size
	c.mu.RUnlock()
	if same {
		return false, nil
	}
	if err := c.Load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Watch keeps the cache fresh until ctx is done: file events on the export's
// directory trigger a refresh, and a periodic stat check covers filesystems
// where events are not delivered. The directory is watched rather than the
// file because exporters usually replace the file by renaming over it.
func (c *Cache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(c.path), err)
	}

	interval := c.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	target := filepath.Clean(c.path)
	refresh := func(reason string) {
		reloaded, err := c.Refresh(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			c.logger.Warn("Order cache refresh failed, keeping previous records.", zap.String("trigger", reason), zap.Error(err))
		case reloaded:
			c.logger.Debug("Order cache refreshed.", zap.String("trigger", reason))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			refresh("fsnotify")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("File watcher error.", zap.Error(err))
		case <-ticker.C:
			refresh("interval")
		}
	}
}
