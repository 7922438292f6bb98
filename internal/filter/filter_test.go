package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flexreport/internal/domain"
	"flexreport/internal/engine"
	"flexreport/internal/loader"
)

func newSession(t *testing.T, table *domain.Table) *loader.Session {
	t.Helper()
	eng := engine.NewMemEngine()
	require.NoError(t, eng.Replace(context.Background(), table))
	return &loader.Session{
		Engine:   eng,
		Source:   &domain.Source{DisplayName: "test"},
		Columns:  append([]string(nil), table.Columns...),
		RowCount: table.RowCount(),
	}
}

func catalogTable() *domain.Table {
	t := domain.NewTable([]string{"ean_hijo", "ean_padre", "color", "depto", "ticket", "asunto_lineamientos", "prioridad"})
	t.Rows = [][]string{
		{"H1", "P1", "Rojo", "Ropa", "TK-1", "Cambio de etiqueta", "PRIORIDAD_1"},
		{"H2", "P1", "Rojo", "Ropa", "TK-2", "Ajuste de precio", "PRIORIDAD_2"},
		{"H3", "P1", "Azul", "Calzado", "TK-3", "Etiqueta nueva", "PRIORIDAD_1"},
		{"H4", "P2", "nan", "Calzado", "TK-4", "Revisión", "PRIORIDAD_3"},
		{"H5", "P2", "", "Hogar", "TK-5", "", "otra"},
		{"H6", "P3", "Verde", "", "TK-6", "ajuste de precio mayor", ""},
	}
	return t
}

func newTestService() *Service {
	return NewService(NewListStore(), nil)
}

func TestApplyUnfiltered(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, res.RowCountFiltered)
	assert.Len(t, res.Data, 6)
	assert.Equal(t, sess.Columns, res.ColumnsInData)
	assert.Empty(t, res.SKUsNotFoundHijo)
	assert.True(t, res.HasPriorityColumn)
	require.NotNil(t, res.PriorityInfo)
	assert.Equal(t, 2, res.PriorityInfo.Counts["PRIORIDAD_1"])
	assert.Equal(t, 2, res.PriorityInfo.Counts["other"])
	assert.Equal(t, "PRIORIDAD_1", res.PriorityInfo.RowTags["0"])
}

func TestApplyPagination(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())
	ctx := context.Background()

	page2, err := s.Apply(ctx, sess, &domain.FilterRequest{Page: 2, PageSize: 4})
	require.NoError(t, err)
	assert.Equal(t, 6, page2.RowCountFiltered)
	require.Len(t, page2.Data, 2)
	assert.Equal(t, "H5", page2.Data[0]["ean_hijo"])
	// Page tags are page-relative.
	assert.Equal(t, "OTRA", page2.PriorityInfo.RowTags["0"])

	// A page past the end is empty but well-formed.
	page9, err := s.Apply(ctx, sess, &domain.FilterRequest{Page: 9, PageSize: 4})
	require.NoError(t, err)
	assert.Empty(t, page9.Data)
	assert.Equal(t, 6, page9.RowCountFiltered)
}

func TestApplyValueFilterWithSentinel(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		ValueFilters: map[string][]string{"DEPTO": {"Ropa", domain.EmptyValueSentinel}},
		PageSize:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowCountFiltered)
}

func TestApplySKUNotFoundDiagnostics(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		SKUHijoManualList: []string{"H1", "ZZ", "H3", "AA"},
		PageSize:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCountFiltered)
	assert.Equal(t, []string{"AA", "ZZ"}, res.SKUsNotFoundHijo)
}

func TestApplyDiagnosticsAgainstFilteredSet(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	// H4 exists in the table but not inside depto=Ropa, so it reports as
	// not found for this combination.
	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		ValueFilters:      map[string][]string{"depto": {"Ropa"}},
		SKUHijoManualList: []string{"H1", "H4"},
		PageSize:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCountFiltered)
	assert.Equal(t, []string{"H4"}, res.SKUsNotFoundHijo)
}

func TestApplyTicketFoldAndLineamiento(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		TicketManualList: []string{" tk-1 ", "TK-9"},
		PageSize:         10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCountFiltered)
	assert.Equal(t, []string{"tk-9"}, res.TicketsNotFound)

	res, err = s.Apply(context.Background(), sess, &domain.FilterRequest{
		LineamientoList: []string{"AJUSTE DE PRECIO", "inexistente"},
		PageSize:        10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCountFiltered)
	assert.Equal(t, []string{"inexistente"}, res.LineamientosNotFound)
}

func TestApplyExtendHijo(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	// H1 brings (P1, Rojo), which also matches H2 but not H3 (Azul).
	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		SKUHijoManualList: []string{"H1"},
		ExtendSKUHijo:     true,
		PageSize:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCountFiltered)

	// H4's color is nullish: the parent extends over nullish-colored
	// siblings only, so H4 and H5 both match.
	res, err = s.Apply(context.Background(), sess, &domain.FilterRequest{
		SKUHijoManualList: []string{"H4"},
		ExtendSKUHijo:     true,
		PageSize:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCountFiltered)

	// No requested SKU exists: the extension matches nothing, not everything.
	res, err = s.Apply(context.Background(), sess, &domain.FilterRequest{
		SKUHijoManualList: []string{"ZZ"},
		ExtendSKUHijo:     true,
		PageSize:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RowCountFiltered)
	assert.Equal(t, []string{"ZZ"}, res.SKUsNotFoundHijo)
}

func TestApplyMissingColumnReportsAllNotFound(t *testing.T) {
	s := newTestService()
	table := domain.NewTable([]string{"descripcion"})
	table.Rows = [][]string{{"algo"}}
	sess := newSession(t, table)

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		SKUHijoManualList: []string{"B", "A"},
		TicketManualList:  []string{"T1"},
		PageSize:          10,
	})
	require.NoError(t, err)
	// The filter is skipped entirely: the result is not zeroed out.
	assert.Equal(t, 1, res.RowCountFiltered)
	assert.Equal(t, []string{"A", "B"}, res.SKUsNotFoundHijo)
	assert.Equal(t, []string{"t1"}, res.TicketsNotFound)
	assert.False(t, res.HasPriorityColumn)
	assert.Nil(t, res.PriorityInfo)
}

func TestApplyColumnProjection(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		Columns:  []string{"EAN_HIJO", "missing", "depto"},
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ean_hijo", "depto"}, res.ColumnsInData)
	require.NotEmpty(t, res.Data)
	_, hasPriority := res.Data[0]["prioridad"]
	assert.False(t, hasPriority)
	// Priority metadata is still computed even when the column is not shown.
	require.NotNil(t, res.PriorityInfo)
	assert.Equal(t, "prioridad", res.PriorityInfo.Column)
}

func TestApplyUploadedListUnion(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())
	s.Lists().Set(ListSKUHijo, []string{"H1"})

	res, err := s.Apply(context.Background(), sess, &domain.FilterRequest{
		UseSKUHijoFile:    true,
		SKUHijoManualList: []string{"H2", "H1"},
		PageSize:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RowCountFiltered)
}

func TestCollectAlignsTagsWithRows(t *testing.T) {
	s := newTestService()
	sess := newSession(t, catalogTable())

	table, tags, counts, err := s.Collect(context.Background(), sess, &domain.FilterRequest{
		Columns: []string{"ean_hijo", "depto"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ean_hijo", "depto"}, table.Columns)
	require.Len(t, tags, table.RowCount())
	assert.Equal(t, "PRIORIDAD_1", tags[0])
	assert.Equal(t, "OTRA", tags[4])
	assert.Equal(t, "", tags[5])
	assert.Equal(t, 2, counts["PRIORIDAD_1"])
	assert.Equal(t, 1, counts["PRIORIDAD_3"])
}

func TestParseListKind(t *testing.T) {
	for _, ok := range []string{"sku_hijo", "sku_padre", "ticket"} {
		kind, err := ParseListKind(ok)
		require.NoError(t, err)
		assert.Equal(t, ListKind(ok), kind)
	}
	_, err := ParseListKind("colores")
	var v *domain.ValidationError
	assert.ErrorAs(t, err, &v)
}

func TestParseIdentifierFileText(t *testing.T) {
	values, err := ParseIdentifierFile("skus.csv", []byte("H1;ignored\n H2 ;x\nH1\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"H1", "H2"}, values)
}

func TestResolveCandidateFuzzy(t *testing.T) {
	cols := []string{"EAN HIJO", "otra"}
	assert.Equal(t, "EAN HIJO", resolveCandidate(cols, skuHijoCandidates))

	cols = []string{"sku_hijo_largo", "ean_hijo"}
	// Earlier candidates win even when a later one appears first.
	assert.Equal(t, "ean_hijo", resolveCandidate(cols, skuHijoCandidates))

	assert.Equal(t, "", resolveCandidate([]string{"x"}, skuHijoCandidates))
}
