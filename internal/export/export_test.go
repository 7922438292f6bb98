package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"flexreport/internal/cache"
	"flexreport/internal/config"
	"flexreport/internal/domain"
	"flexreport/internal/engine"
	"flexreport/internal/fetch"
	"flexreport/internal/filter"
	"flexreport/internal/loader"
	"flexreport/internal/progress"
)

func newExportService(t *testing.T, csvContent string) *Service {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(csvContent), 0o644))

	registry, err := config.ParseRegistry([]byte(fmt.Sprintf(`
sources:
  - display_name: Datos
    source_type: local-file
    location: %s
`, path)))
	require.NoError(t, err)

	cfg := &config.Config{
		FetchTimeout:      time.Minute,
		ProbeTimeout:      time.Second,
		LoadWorkers:       1,
		FilterOptionLimit: 100,
	}
	fetchers, err := fetch.NewDispatcher(cfg)
	require.NoError(t, err)

	store := cache.New(filepath.Join(dir, "cache"), time.Hour, nil)
	t.Cleanup(func() { store.Close() }) //nolint:errcheck

	ld := loader.New(cfg, registry, fetchers, store, progress.NewBroadcaster(), nil, nil, func() engine.Engine {
		return engine.NewMemEngine()
	})
	t.Cleanup(func() { ld.Close() }) //nolint:errcheck

	_, err = ld.Load(context.Background(), "Datos", nil)
	require.NoError(t, err)

	filters := filter.NewService(filter.NewListStore(), nil)
	return NewService(ld, filters, NewCanceller(), nil)
}

const exportCSV = "ean_hijo,depto,prioridad\nH1,Ropa,PRIORIDAD_1\nH2,Calzado,PRIORIDAD_2\nH3,Hogar,otra\n"

func TestCanceller(t *testing.T) {
	c := NewCanceller()
	assert.False(t, c.Cancelled())
	assert.NoError(t, c.check("op"))

	c.Cancel()
	assert.True(t, c.Cancelled())
	err := c.check("op")
	var cancelled *domain.CancelledError
	require.ErrorAs(t, err, &cancelled)

	c.Reset()
	assert.False(t, c.Cancelled())
}

func TestCSVExport(t *testing.T) {
	s := newExportService(t, exportCSV)

	var buf bytes.Buffer
	err := s.CSV(context.Background(), &domain.FilterRequest{Columns: []string{"ean_hijo", "depto"}}, &buf)
	require.NoError(t, err)

	want := "ean_hijo,depto\nH1,Ropa\nH2,Calzado\nH3,Hogar\n"
	assert.Equal(t, want, buf.String())
}

func TestCSVExportResetsStaleCancellation(t *testing.T) {
	s := newExportService(t, exportCSV)

	// A cancellation left over from a previous export must not abort the
	// next one.
	s.Canceller().Cancel()
	var buf bytes.Buffer
	require.NoError(t, s.CSV(context.Background(), &domain.FilterRequest{}, &buf))
}

func TestExcelExport(t *testing.T) {
	s := newExportService(t, exportCSV)

	path, name, err := s.Excel(context.Background(), &domain.FilterRequest{}, true)
	require.NoError(t, err)
	defer os.Remove(path) //nolint:errcheck
	assert.Equal(t, "reporte_filtrado.xlsx", name)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := f.GetRows("DatosFiltrados")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"ean_hijo", "depto", "prioridad"}, rows[0])
	assert.Equal(t, []string{"H1", "Ropa", "PRIORIDAD_1"}, rows[1])
}

func TestExcelExportFailsWithoutLoadedTable(t *testing.T) {
	dir := t.TempDir()
	registry, err := config.ParseRegistry([]byte("sources: []"))
	require.NoError(t, err)
	cfg := &config.Config{FetchTimeout: time.Minute, ProbeTimeout: time.Second, LoadWorkers: 1, FilterOptionLimit: 10}
	fetchers, err := fetch.NewDispatcher(cfg)
	require.NoError(t, err)
	store := cache.New(filepath.Join(dir, "cache"), time.Hour, nil)
	defer store.Close() //nolint:errcheck
	ld := loader.New(cfg, registry, fetchers, store, progress.NewBroadcaster(), nil, nil, func() engine.Engine {
		return engine.NewMemEngine()
	})
	defer ld.Close() //nolint:errcheck

	s := NewService(ld, filter.NewService(filter.NewListStore(), nil), NewCanceller(), nil)
	_, _, err = s.Excel(context.Background(), &domain.FilterRequest{}, false)
	var v *domain.ValidationError
	assert.True(t, errors.As(err, &v))
}

func TestPriorityStyleMatching(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	styles, err := newPriorityStyles(f)
	require.NoError(t, err)

	assert.Equal(t, styles.p1, styles.forTag("PRIORIDAD_1"))
	assert.Equal(t, styles.p1, styles.forTag("priority_1 (alta)"))
	assert.Equal(t, styles.p2, styles.forTag(" PRIORIDAD_2 "))
	assert.Equal(t, styles.p3, styles.forTag("PRIORITY_3"))
	assert.Equal(t, 0, styles.forTag("otra"))
	assert.Equal(t, 0, styles.forTag(""))
}
