package application

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"es-schedule/internal/actualtime/domain"
)

// Export formats.
const (
	FormatTXT  = "txt"
	FormatXLSX = "xlsx"
)

// DailyTotalsReader aggregates the ledger of one date.
type DailyTotalsReader interface {
	DailyTotals(ctx context.Context, date time.Time) ([]domain.DailyTotal, error)
}

// Exporter writes the daily upload file for the downstream ERP.
type Exporter struct {
	totals    DailyTotalsReader
	outputDir string
	formats   []string
	clock     Clock
	logger    zerolog.Logger
}

// ExporterOption configures the exporter.
type ExporterOption func(*Exporter)

// WithExportClock overrides the clock used to name files.
func WithExportClock(clock Clock) ExporterOption {
	return func(x *Exporter) {
		if clock != nil {
			x.clock = clock
		}
	}
}

// WithExportLogger sets the logger for optional format failures.
func WithExportLogger(logger zerolog.Logger) ExporterOption {
	return func(x *Exporter) {
		x.logger = logger
	}
}

// WithFormats selects additional export formats. The text file is always written.
func WithFormats(formats ...string) ExporterOption {
	return func(x *Exporter) {
		for _, f := range formats {
			f = strings.ToLower(strings.TrimSpace(f))
			if f == FormatXLSX {
				x.formats = append(x.formats, f)
			}
		}
	}
}

// NewExporter constructs an exporter writing into outputDir.
func NewExporter(totals DailyTotalsReader, outputDir string, opts ...ExporterOption) (*Exporter, error) {
	if totals == nil {
		return nil, errors.New("actualtime: nil totals reader")
	}
	if outputDir == "" {
		return nil, errors.New("actualtime: empty output dir")
	}
	x := &Exporter{totals: totals, outputDir: outputDir, clock: systemClock{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Export writes the date's totals and returns the text file path. Only the
// text file decides the outcome; optional formats that fail are logged.
func (x *Exporter) Export(ctx context.Context, calcDate time.Time) (string, error) {
	totals, err := x.totals.DailyTotals(ctx, calcDate)
	if err != nil {
		return "", fmt.Errorf("actualtime: load daily totals: %w", err)
	}
	if err := os.MkdirAll(x.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("actualtime: create output dir: %w", err)
	}

	generatedAt := x.clock.Now()
	path := filepath.Join(x.outputDir, domain.ExportFileName(generatedAt, ".txt"))
	if err := writeText(path, calcDate, totals); err != nil {
		return "", err
	}
	for _, format := range x.formats {
		if format == FormatXLSX {
			xlsxPath := filepath.Join(x.outputDir, domain.ExportFileName(generatedAt, ".xlsx"))
			if err := writeXLSX(xlsxPath, calcDate, totals); err != nil {
				x.logger.Warn().Err(err).Str("path", xlsxPath).Msg("xlsx export skipped")
			}
		}
	}
	return path, nil
}

func writeText(path string, date time.Time, totals []domain.DailyTotal) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("actualtime: create export: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, total := range totals {
		if _, err := w.WriteString(domain.ExportLine(date, total) + "\n"); err != nil {
			_ = file.Close()
			return fmt.Errorf("actualtime: write export: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = file.Close()
		return fmt.Errorf("actualtime: flush export: %w", err)
	}
	return file.Close()
}

func writeXLSX(path string, date time.Time, totals []domain.DailyTotal) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "worktime"
	_ = f.SetSheetName("Sheet1", sheet)
	headers := []string{"Date", "Time", "WIP", "Route", "Production Time", "Production Count"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, total := range totals {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), date.Format("20060102"))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), domain.ExportTime)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), total.WorkOrder)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), total.Route)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), total.ProductionTime.InexactFloat64())
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), total.Count)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("actualtime: write xlsx export: %w", err)
	}
	return nil
}
