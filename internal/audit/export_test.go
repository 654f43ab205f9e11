package audit

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPDFRenderer struct {
	called bool
}

func (s *stubPDFRenderer) RenderPDF(_ context.Context, _ []*Event, destPath string) error {
	s.called = true
	return os.WriteFile(destPath, []byte("%PDF-1.4 stub"), 0o600)
}

func seedExportEvents(t *testing.T, l *Ledger) {
	t.Helper()
	ctx := context.Background()
	fixtures := []*Event{
		{IdentityID: "did:test:a", OperationType: "TRANSFER", Amount: 100, Token: "QToken", Success: true, RiskScore: 0.1},
		{IdentityID: "did:test:a", OperationType: "SIGN", Success: false, Error: "denied"},
		{IdentityID: "did:test:b", OperationType: "TRANSFER", Amount: 50, Token: "PI", Success: true},
	}
	for _, e := range fixtures {
		require.NoError(t, l.Append(ctx, e))
	}
}

func TestExporter_JSONRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	seedExportEvents(t, l)
	x := NewExporter(l, t.TempDir(), nil)

	name, err := x.Export(context.Background(), &Filter{IdentityID: "did:test:a"}, FormatJSON)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".json"))

	events, err := x.Import(name)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "did:test:a", events[0].IdentityID)
	assert.Equal(t, "TRANSFER", events[0].OperationType)
	assert.InDelta(t, 100.0, events[0].Amount, 0.001)
}

func TestExporter_CSV(t *testing.T) {
	l := newTestLedger(t)
	seedExportEvents(t, l)
	dir := t.TempDir()
	x := NewExporter(l, dir, nil)

	name, err := x.Export(context.Background(), &Filter{}, FormatCSV)
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + 3 events
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "did:test:a", rows[1][1])
}

func TestExporter_EmptyResultStillExports(t *testing.T) {
	l := newTestLedger(t)
	x := NewExporter(l, t.TempDir(), nil)

	name, err := x.Export(context.Background(), &Filter{IdentityID: "did:test:nobody"}, FormatJSON)
	require.NoError(t, err)

	events, err := x.Import(name)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExporter_PDFRequiresRenderer(t *testing.T) {
	l := newTestLedger(t)
	x := NewExporter(l, t.TempDir(), nil)

	_, err := x.Export(context.Background(), &Filter{}, FormatPDF)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestExporter_PDFDelegatesToRenderer(t *testing.T) {
	l := newTestLedger(t)
	seedExportEvents(t, l)
	renderer := &stubPDFRenderer{}
	x := NewExporter(l, t.TempDir(), renderer)

	name, err := x.Export(context.Background(), &Filter{}, FormatPDF)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".pdf"))
	assert.True(t, renderer.called)
}

func TestExporter_UnsupportedFormat(t *testing.T) {
	l := newTestLedger(t)
	x := NewExporter(l, t.TempDir(), nil)

	_, err := x.Export(context.Background(), &Filter{}, Format("xml"))
	require.Error(t, err)
}

func TestExporter_ImportStripsPathTraversal(t *testing.T) {
	l := newTestLedger(t)
	seedExportEvents(t, l)
	x := NewExporter(l, t.TempDir(), nil)

	name, err := x.Export(context.Background(), &Filter{}, FormatJSON)
	require.NoError(t, err)

	// Only the base name counts; directory components are discarded.
	events, err := x.Import("../../" + name)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
