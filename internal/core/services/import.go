package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/bankfeed/internal/aggregate"
	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driven"
	"github.com/custodia-labs/bankfeed/internal/core/ports/driving"
	"github.com/custodia-labs/bankfeed/internal/logger"
	"github.com/custodia-labs/bankfeed/internal/parsers/applog"
	"github.com/custodia-labs/bankfeed/internal/parsers/csvimport"
)

// Ensure ImportService implements the interface.
var _ driving.ImportService = (*ImportService)(nil)

// ImportService turns offline export files into canonical
// transactions: route to the right parser, collapse multi-line-item
// orders, and drop duplicates so re-imports are idempotent.
type ImportService struct {
	log driven.ImportLogStore
	now func() time.Time
}

// NewImportService creates the import service. log may be nil, in which
// case no import trail is kept.
func NewImportService(log driven.ImportLogStore) *ImportService {
	return &ImportService{log: log, now: time.Now}
}

// ImportFile parses the file at path. The extension picks the parser;
// an unknown extension falls back to content sniffing.
func (s *ImportService) ImportFile(ctx context.Context, path string) ([]domain.FetchedTransaction, domain.ImportStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ImportStats{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ImportStats{}, fmt.Errorf("reading import file: %w", err)
	}

	logger.Section("File Import")
	logger.Debug("import: %s (%d bytes)", filepath.Base(path), len(data))

	var (
		txns  []domain.FetchedTransaction
		stats domain.ImportStats
	)
	switch kind := fileKind(path, data); kind {
	case "csv":
		txns, stats, err = csvimport.Parse(bytes.NewReader(data))
	case "applog":
		txns, stats, err = applog.Parse(bytes.NewReader(data), s.now())
	default:
		return nil, domain.ImportStats{}, fmt.Errorf("%w: cannot identify format of %s",
			domain.ErrUnsupportedFormat, filepath.Base(path))
	}
	if err != nil {
		return nil, stats, err
	}

	txns = aggregate.CollapseOrders(txns)
	deduped, dupes := aggregate.DedupByExternalID(txns)
	if dupes > 0 {
		logger.Debug("import: dropped %d duplicate records", dupes)
		stats.Skipped += dupes
	}

	logger.Info("import: %s produced %d transactions (%d rows read, %d skipped)",
		filepath.Base(path), len(deduped), stats.TotalRows, stats.Skipped)

	if s.log != nil {
		rec := domain.ImportRecord{
			ID:         uuid.NewString(),
			Path:       path,
			Stats:      stats,
			ImportedAt: s.now(),
		}
		if err := s.log.Record(ctx, rec); err != nil {
			// The import itself succeeded; a lost trail entry is not
			// worth failing the call over.
			logger.Warn("import: recording batch failed: %v", err)
		}
	}
	return deduped, stats, nil
}

// fileKind routes by extension first, content sniffing second. A
// comma-separated first line marks CSV; the text-log format starts
// with prose lines.
func fileKind(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".txt", ".log":
		return "applog"
	}

	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	if bytes.Count(line, []byte(",")) >= 2 {
		return "csv"
	}
	if len(bytes.TrimSpace(data)) > 0 {
		return "applog"
	}
	return ""
}
