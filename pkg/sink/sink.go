// Package sink delivers batch payloads to an Azure Event Hub through its
// HTTPS ingestion endpoint.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cometsec/comet/pkg/azure"
	"github.com/cometsec/comet/pkg/batch"
	"github.com/cometsec/comet/pkg/telemetry"
)

const (
	namespaceSuffix = ".servicebus.windows.net"
	apiVersion      = "2014-01"
	brokerTimeout   = 60 * time.Second
	contentType     = "application/atom+xml;type=entry;charset=utf-8"

	// requestTimeout sits above the broker-side timeout so the broker
	// answers before the client gives up.
	requestTimeout = 90 * time.Second

	errorBodyLimit = 512
)

// Hub posts batches to one Event Hub. Every Send acquires a fresh bearer
// token; azidentity caches and refreshes underneath, so this costs one
// network round trip only when the cached token expired.
type Hub struct {
	client  *http.Client
	tokens  azure.TokenSource
	url     string
	target  string
	tracker *telemetry.Tracker
}

// NewHub builds a transmitter for the hub in the namespace. The namespace
// may be short ("comet-prod") or a full FQDN; short names get the public
// cloud service bus suffix.
func NewHub(namespace, hub string, tokens azure.TokenSource, tracker *telemetry.Tracker) *Hub {
	fqdn := namespace
	if !strings.Contains(fqdn, ".") {
		fqdn += namespaceSuffix
	}
	return &Hub{
		client: &http.Client{Timeout: requestTimeout},
		tokens: tokens,
		url: fmt.Sprintf("https://%s/%s/messages?api-version=%s&timeout=%d",
			fqdn, hub, apiVersion, int(brokerTimeout.Seconds())),
		target:  fqdn + "/" + hub,
		tracker: tracker,
	}
}

// Target names the destination for logs and reports.
func (h *Hub) Target() string { return h.target }

// Send posts the batch payload and returns nil on acceptance (201). Any
// other outcome returns an error carrying enough detail for
// classification; a payload-too-large rejection additionally logs the
// record identifiers so the offending resources can be found.
func (h *Hub) Send(ctx context.Context, b *batch.Batch) error {
	start := time.Now()
	ctx, span := h.tracker.StartSpan(ctx, "eventhub.send",
		attribute.String("target", h.target),
		attribute.Int("batch.records", b.Count()),
		attribute.Int("batch.bytes", b.Size()),
	)
	defer span.End()

	err := h.post(ctx, b)
	span.SetAttributes(attribute.Bool("success", err == nil))
	if err != nil {
		span.RecordError(err)
		return err
	}

	slog.Debug("batch delivered",
		"target", h.target,
		"records", b.Count(),
		"bytes", b.Size(),
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (h *Hub) post(ctx context.Context, b *batch.Batch) error {
	token, err := h.tokens.Token(ctx, azure.AudienceEventHubs)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(b.Payload()))
	if err != nil {
		return fmt.Errorf("failed to build send request for %s: %w", h.target, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post batch to %s: %w", h.target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	serr := &azure.StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        h.target,
		Body:       strings.TrimSpace(string(body)),
	}

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		slog.Warn("event hub rejected batch as too large, reduce the target batch size",
			"target", h.target,
			"bytes", b.Size(),
			"records", b.Count(),
			"recordIds", strings.Join(b.IDs(), ","))
	}
	return serr
}
