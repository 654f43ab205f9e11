package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/idgen"
)

// Format selects the export serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// PDFRenderer delegates PDF rendering to the external report service.
// JSON and CSV are produced locally.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, events []*Event, destPath string) error
}

// Exporter serializes filtered event sets to files and re-imports them.
type Exporter struct {
	ledger *Ledger
	dir    string
	pdf    PDFRenderer
}

// NewExporter creates an exporter writing into dir.
func NewExporter(ledger *Ledger, dir string, pdf PDFRenderer) *Exporter {
	return &Exporter{ledger: ledger, dir: dir, pdf: pdf}
}

var csvHeader = []string{"id", "identityId", "operationType", "amount", "token", "success", "error", "riskScore", "timestamp"}

// Export serializes the events matching the period to the given format and
// returns an opaque handle (the filename). Failures are reported to the
// caller, never retried silently.
func (x *Exporter) Export(ctx context.Context, f *Filter, format Format) (string, error) {
	events, err := x.ledger.Query(ctx, f)
	if err != nil {
		return "", fmt.Errorf("export: query: %w", err)
	}

	name := fmt.Sprintf("audit_%s_%s.%s", time.Now().Format("20060102T150405"), idgen.Hex(4), format)
	path := filepath.Join(x.dir, name)

	switch format {
	case FormatJSON:
		err = writeJSON(path, events)
	case FormatCSV:
		err = writeCSV(path, events)
	case FormatPDF:
		if x.pdf == nil {
			return "", fmt.Errorf("export: pdf rendering service not configured")
		}
		err = x.pdf.RenderPDF(ctx, events, path)
	default:
		return "", fmt.Errorf("export: unsupported format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("export: write %s: %w", name, err)
	}
	return name, nil
}

// Import reads a JSON export back into an event slice. Export followed by
// Import yields the same event set.
func (x *Exporter) Import(path string) ([]*Event, error) {
	data, err := os.ReadFile(filepath.Join(x.dir, filepath.Base(path)))
	if err != nil {
		return nil, fmt.Errorf("import: read: %w", err)
	}
	var events []*Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("import: decode: %w", err)
	}
	return events, nil
}

func writeJSON(path string, events []*Event) error {
	if events == nil {
		events = []*Event{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func writeCSV(path string, events []*Event) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range events {
		row := []string{
			e.ID,
			e.IdentityID,
			e.OperationType,
			strconv.FormatFloat(e.Amount, 'f', -1, 64),
			e.Token,
			strconv.FormatBool(e.Success),
			e.Error,
			strconv.FormatFloat(e.RiskScore, 'f', -1, 64),
			e.Timestamp.Format(time.RFC3339Nano),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
