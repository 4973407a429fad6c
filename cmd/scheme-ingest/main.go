package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
	"github.com/xenking/sfa-scheme-engine/internal/storage/cache"
	"github.com/xenking/sfa-scheme-engine/internal/storage/postgres"
)

// fileResult holds the definitions read from one export file.
type fileResult struct {
	valid   []scheme.Definition
	invalid int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		redisAddr   string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.json.gz scheme exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address of the snapshot cache to invalidate (or REDIS_ADDR env)")
	flag.Parse()

	lg, _ := zap.NewProduction()
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if redisAddr == "" {
		redisAddr = os.Getenv("REDIS_ADDR")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, redisAddr); err != nil {
		lg.Fatal("Scheme ingest failed", zap.Error(err))
	}
	lg.Info("Scheme ingest completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL, redisAddr string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.json.gz"))
	if err != nil {
		return errors.Wrap(err, "list exports")
	}
	if len(files) == 0 {
		lg.Info("No scheme exports found", zap.String("dir", dataDir))
		return nil
	}
	slices.Sort(files)

	defs, err := readExports(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "read exports")
	}
	if len(defs) == 0 {
		lg.Info("No valid schemes to write")
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.NewSchemeRepository(pool).Upsert(ctx, defs); err != nil {
		return errors.Wrap(err, "write schemes")
	}
	lg.Info("Schemes written", zap.Int("count", len(defs)))

	if redisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = rdb.Close() }()
	if err := cache.NewSnapshotCache(rdb, nil, 0).Invalidate(ctx); err != nil {
		return err
	}
	lg.Info("Scheme snapshot cache invalidated")
	return nil
}

// readExports reads every file concurrently and returns the valid
// definitions in file order. A later file wins on duplicate IDs.
func readExports(ctx context.Context, lg *zap.Logger, files []string) ([]scheme.Definition, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			r, err := readExport(ctx, lg, f)
			if err != nil {
				return errors.Wrapf(err, "file %s", f)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]int)
	var defs []scheme.Definition
	var invalid int
	for _, r := range results {
		invalid += r.invalid
		for _, d := range r.valid {
			if idx, ok := byID[d.ID]; ok {
				defs[idx] = d
				continue
			}
			byID[d.ID] = len(defs)
			defs = append(defs, d)
		}
	}
	lg.Info("Exports read",
		zap.Int("files", len(files)),
		zap.Int("valid", len(defs)),
		zap.Int("invalid", invalid),
	)
	return defs, nil
}

// readExport decodes one gzip-compressed JSON array of scheme documents.
func readExport(ctx context.Context, lg *zap.Logger, path string) (fileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileResult{}, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fileResult{}, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	dec := json.NewDecoder(gz)
	if _, err := dec.Token(); err != nil {
		return fileResult{}, errors.Wrap(err, "read array start")
	}

	var r fileResult
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return fileResult{}, err
		}
		var doc scheme.Document
		if err := dec.Decode(&doc); err != nil {
			return fileResult{}, errors.Wrap(err, "decode scheme document")
		}
		def := doc.Definition()
		if err := def.Validate(); err != nil {
			r.invalid++
			lg.Warn("Skipping invalid scheme",
				zap.String("file", filepath.Base(path)),
				zap.String("scheme_id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		r.valid = append(r.valid, def)
	}
	return r, nil
}
