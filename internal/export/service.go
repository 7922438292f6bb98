package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"flexreport/internal/domain"
	"flexreport/internal/filter"
	"flexreport/internal/loader"
)

const sheetName = "DatosFiltrados"

// Service produces export artifacts from the current loaded table.
type Service struct {
	loader    *loader.Loader
	filters   *filter.Service
	canceller *Canceller
	logger    *slog.Logger
}

// NewService creates the export service.
func NewService(l *loader.Loader, f *filter.Service, c *Canceller, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{loader: l, filters: f, canceller: c, logger: logger.With("component", "export")}
}

// Canceller exposes the cancellation slot for the cancel endpoint.
func (s *Service) Canceller() *Canceller { return s.canceller }

// Excel writes the full filtered result to a temporary .xlsx file and
// returns its path plus a suggested download name. The caller removes the
// file after serving it; on error (including cancellation) the partial
// file is already gone.
func (s *Service) Excel(ctx context.Context, req *domain.FilterRequest, colorize bool) (string, string, error) {
	s.canceller.Reset()

	path := filepath.Join(os.TempDir(), "flexreport_"+uuid.NewString()+".xlsx")
	err := s.loader.WithSession(func(sess *loader.Session) error {
		table, tags, _, err := s.filters.Collect(ctx, sess, req)
		if err != nil {
			return err
		}
		if err := s.canceller.check("excel export"); err != nil {
			return err
		}
		return s.writeExcel(path, table, tags, colorize)
	})
	if err != nil {
		os.Remove(path) //nolint:errcheck
		return "", "", err
	}
	return path, "reporte_filtrado.xlsx", nil
}

func (s *Service) writeExcel(path string, table *domain.Table, tags []string, colorize bool) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}

	styles, err := newPriorityStyles(f)
	if err != nil {
		return err
	}

	header := make([]interface{}, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}
	cell, _ := excelize.CoordinatesToCellName(1, 1)
	if err := sw.SetRow(cell, header); err != nil {
		return err
	}

	for i, row := range table.Rows {
		if i%cancelCheckRows == 0 {
			if err := s.canceller.check("excel export"); err != nil {
				return err
			}
		}

		styleID := 0
		if colorize && i < len(tags) {
			styleID = styles.forTag(tags[i])
		}

		cells := make([]interface{}, len(table.Columns))
		for j := range table.Columns {
			v := ""
			if j < len(row) {
				v = row[j]
			}
			if styleID != 0 {
				cells[j] = excelize.Cell{StyleID: styleID, Value: v}
			} else {
				cells[j] = v
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return err
	}
	s.logger.Info("excel export written", "rows", table.RowCount(), "path", path)
	return nil
}

// priorityStyles holds the three visual treatments for priority tiers.
type priorityStyles struct {
	p1, p2, p3 int
}

func newPriorityStyles(f *excelize.File) (*priorityStyles, error) {
	mk := func(bg, font string) (int, error) {
		return f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{bg}},
			Font: &excelize.Font{Color: font},
		})
	}
	p1, err := mk("FFCDD2", "B71C1C")
	if err != nil {
		return nil, err
	}
	p2, err := mk("FFF9C4", "F57F17")
	if err != nil {
		return nil, err
	}
	p3, err := mk("C8E6C9", "1B5E20")
	if err != nil {
		return nil, err
	}
	return &priorityStyles{p1: p1, p2: p2, p3: p3}, nil
}

// forTag maps a priority tag to a style. Matching is a tolerant substring
// check so minor upstream label variance still colors correctly;
// unrecognized tags get no treatment.
func (ps *priorityStyles) forTag(tag string) int {
	upper := strings.ToUpper(tag)
	switch {
	case strings.Contains(upper, "PRIORIDAD_1") || strings.Contains(upper, "PRIORITY_1"):
		return ps.p1
	case strings.Contains(upper, "PRIORIDAD_2") || strings.Contains(upper, "PRIORITY_2"):
		return ps.p2
	case strings.Contains(upper, "PRIORIDAD_3") || strings.Contains(upper, "PRIORITY_3"):
		return ps.p3
	default:
		return 0
	}
}

// CSV streams the full filtered result to w as comma-separated text in
// fixed-size row batches, checking for cancellation between batches. The
// stream is restartable from the start only.
func (s *Service) CSV(ctx context.Context, req *domain.FilterRequest, w io.Writer) error {
	s.canceller.Reset()

	return s.loader.WithSession(func(sess *loader.Session) error {
		table, _, _, err := s.filters.Collect(ctx, sess, req)
		if err != nil {
			return err
		}
		if err := s.canceller.check("csv export"); err != nil {
			return err
		}

		cw := csv.NewWriter(w)
		if err := cw.Write(table.Columns); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}

		for start := 0; start < len(table.Rows); start += cancelCheckRows {
			if err := s.canceller.check("csv export"); err != nil {
				return err
			}
			end := start + cancelCheckRows
			if end > len(table.Rows) {
				end = len(table.Rows)
			}
			for _, row := range table.Rows[start:end] {
				padded := row
				if len(row) < len(table.Columns) {
					padded = make([]string, len(table.Columns))
					copy(padded, row)
				}
				if err := cw.Write(padded); err != nil {
					return fmt.Errorf("write csv row: %w", err)
				}
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
		}

		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		s.logger.Info("csv export streamed", "rows", table.RowCount())
		return nil
	})
}
