package extsvc

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/AnarQorp/qwallet-core/internal/audit"
	"github.com/AnarQorp/qwallet-core/internal/errs"
)

// ReportClient delegates PDF rendering of audit exports to the external
// report service. It satisfies audit.PDFRenderer.
type ReportClient struct {
	c *client
}

// NewReportClient creates a report client against the given base URL.
func NewReportClient(baseURL string, timeout time.Duration) *ReportClient {
	return &ReportClient{c: newClient("report", baseURL, timeout)}
}

type renderRequest struct {
	Events []*audit.Event `json:"events"`
}

type renderResponse struct {
	// Document is the base64-encoded PDF body.
	Document string `json:"document"`
}

func (r *ReportClient) RenderPDF(ctx context.Context, events []*audit.Event, destPath string) error {
	var resp renderResponse
	if err := r.c.postJSON(ctx, "/v1/reports/render", &renderRequest{Events: events}, &resp); err != nil {
		return err
	}
	doc, err := base64.StdEncoding.DecodeString(resp.Document)
	if err != nil {
		return fmt.Errorf("report: decode document: %w", err)
	}
	return os.WriteFile(destPath, doc, 0o600)
}

var _ audit.PDFRenderer = (*ReportClient)(nil)

// Health probes a collaborator's health endpoint. Used by the readiness
// check to report degraded collaborators without failing the process.
func Health(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindService, "health probe failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.KindService, "health probe returned %d", resp.StatusCode)
	}
	return nil
}
