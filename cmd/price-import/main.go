package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricing/internal/domain/catalog"
	"github.com/xenking/kart-pricing/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	headerColumn  = "externalArticleId"
)

type priceWriter interface {
	SetPrices(ctx context.Context, entries []catalog.PriceEntry) error
}

func main() {
	var (
		pattern     string
		databaseURL string
		batchSize   int
		capacity    uint
	)

	flag.StringVar(&pattern, "files", "data/prices*.csv.gz", "glob of gzip-compressed price CSV files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "price records written per transaction")
	flag.UintVar(&capacity, "expected-rows", 10_000_000, "expected number of rows across all files")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if batchSize <= 0 {
		slog.Error("batch size must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, batchSize, capacity); err != nil {
		slog.Error("price import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("price import completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, batchSize int, capacity uint) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "match %s", pattern)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", pattern)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	im := newImporter(postgres.NewArticleStore(pool), batchSize, capacity)
	return im.Import(ctx, files)
}

// importer loads price records from CSV feeds. A record is identified by its
// article and start date; only the first occurrence of each pair is written.
//
// Pass 1 streams every file through a bloom filter. Keys that test positive
// before being added may be duplicates and become candidates. Pass 2 writes
// every non-candidate key, and the first occurrence of each candidate.
type importer struct {
	store     priceWriter
	batchSize int

	mu         sync.Mutex
	filter     *bloom.BloomFilter
	candidates map[string]bool

	written atomic.Int64
	dropped atomic.Int64
	skipped atomic.Int64
}

func newImporter(store priceWriter, batchSize int, capacity uint) *importer {
	return &importer{
		store:      store,
		batchSize:  batchSize,
		filter:     bloom.NewWithEstimates(max(capacity, 1), bloomFPR),
		candidates: make(map[string]bool),
	}
}

// Import runs both passes over files.
func (im *importer) Import(ctx context.Context, files []string) error {
	slog.Info("pass 1: indexing records", slog.Int("files", len(files)))

	if err := im.forEachFile(ctx, files, im.indexFile); err != nil {
		return errors.Wrap(err, "index records")
	}

	slog.Info("pass 1 complete", slog.Int("candidates", len(im.candidates)))
	slog.Info("pass 2: writing prices")

	if err := im.forEachFile(ctx, files, im.writeFile); err != nil {
		return errors.Wrap(err, "write prices")
	}

	slog.Info("pass 2 complete",
		slog.Int64("written", im.written.Load()),
		slog.Int64("duplicates", im.dropped.Load()),
		slog.Int64("invalid", im.skipped.Load()),
	)
	return nil
}

func (im *importer) forEachFile(ctx context.Context, files []string, fn func(ctx context.Context, path string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error { return fn(ctx, f) })
	}
	return g.Wait()
}

func (im *importer) indexFile(ctx context.Context, path string) error {
	var count uint64
	return streamGzCSV(ctx, path, func(line int, rec []string) error {
		entry, err := parseRecord(rec)
		if err != nil {
			// Reported once, in pass 2.
			return nil
		}
		im.mark(recordKey(entry))

		count++
		if count%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("records", count))
		}
		return nil
	})
}

func (im *importer) writeFile(ctx context.Context, path string) error {
	batch := make([]catalog.PriceEntry, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.SetPrices(ctx, batch); err != nil {
			return errors.Wrapf(err, "write batch from %s", path)
		}
		n := im.written.Add(int64(len(batch)))
		if n/progressEvery != (n-int64(len(batch)))/progressEvery {
			slog.Info("pass 2 progress", slog.Int64("written", n))
		}
		batch = batch[:0]
		return nil
	}

	err := streamGzCSV(ctx, path, func(line int, rec []string) error {
		entry, err := parseRecord(rec)
		if err != nil {
			im.skipped.Add(1)
			slog.Warn("skipping invalid record",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if !im.keep(recordKey(entry)) {
			im.dropped.Add(1)
			return nil
		}
		batch = append(batch, entry)
		if len(batch) == im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// mark indexes key during pass 1.
func (im *importer) mark(key string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if im.filter.TestAndAddString(key) {
		im.candidates[key] = false
	}
}

// keep reports whether the record with key should be written during pass 2.
func (im *importer) keep(key string) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	seen, ok := im.candidates[key]
	if !ok {
		return true
	}
	if seen {
		return false
	}
	im.candidates[key] = true
	return true
}

func recordKey(e catalog.PriceEntry) string {
	return e.ExternalArticleID + "|" + e.StartDate.UTC().Format(time.RFC3339Nano)
}

// parseRecord parses one "externalArticleId,price,startDate" row.
func parseRecord(rec []string) (catalog.PriceEntry, error) {
	if len(rec) != 3 {
		return catalog.PriceEntry{}, errors.Errorf("expected 3 fields, got %d", len(rec))
	}
	id := strings.TrimSpace(rec[0])
	if id == "" {
		return catalog.PriceEntry{}, errors.New("article id is empty")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(rec[1]))
	if err != nil {
		return catalog.PriceEntry{}, errors.Wrapf(err, "parse price %q", rec[1])
	}
	if !price.IsPositive() {
		return catalog.PriceEntry{}, errors.Errorf("price %s is not positive", price)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[2]))
	if err != nil {
		return catalog.PriceEntry{}, errors.Wrapf(err, "parse start date %q", rec[2])
	}
	return catalog.PriceEntry{ExternalArticleID: id, Price: price, StartDate: start.UTC()}, nil
}

// streamGzCSV opens a gzip-compressed CSV file and calls fn for each record.
// A leading header row is skipped.
func streamGzCSV(ctx context.Context, path string, fn func(line int, rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), headerColumn) {
			continue
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}
