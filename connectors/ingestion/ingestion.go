// Package ingestion delivers record batches to a Log Analytics custom table through a data
// collection rule stream.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"azcost/domain/cloudspending"
)

// APIVersion of the logs ingestion endpoint.
const APIVersion = "2023-01-01"

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// ErrRejected is wrapped when the endpoint answers with a non-2xx status.
var ErrRejected = errors.New("ingestion endpoint rejected the payload")

// Payload kinds and outcomes reported to an Observer.
const (
	PayloadBatch    = "batch"
	PayloadFallback = "fallback"

	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Observer is told about every POST attempt.
type Observer interface {
	ObserveDelivery(payload, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveDelivery(string, string) {}

// Config addresses the stream and the local backup directory.
type Config struct {
	Endpoint  string
	RuleID    string
	TableName string
	Audience  string
	BackupDir string
}

// DeliveryError reports a failed batch delivery. The run counts as failed even when the
// fallback diagnostic record got through, since the batch itself was never accepted.
type DeliveryError struct {
	StatusCode        int
	Body              string
	FallbackDelivered bool
	Err               error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("delivery failed: %v", e.Err)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("delivery failed with status %d: %v", e.StatusCode, e.Err)
	}
	if e.FallbackDelivered {
		return msg + " (fallback record delivered)"
	}
	return msg + " (fallback record failed)"
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Sender posts batches with a bearer token from cred.
type Sender struct {
	cfg        Config
	cred       azcore.TokenCredential
	httpClient *http.Client
	observer   Observer
	now        func() time.Time
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

func WithObserver(o Observer) Option {
	return func(s *Sender) { s.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sender) { s.now = now }
}

func NewSender(cfg Config, cred azcore.TokenCredential, opts ...Option) *Sender {
	s := &Sender{
		cfg:        cfg,
		cred:       cred,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StreamURL builds {endpoint}/dataCollectionRules/{ruleId}/streams/Custom-{table}.
func StreamURL(endpoint, ruleID, table string) string {
	stream := table
	if !strings.HasPrefix(stream, "Custom-") {
		stream = "Custom-" + stream
	}
	return fmt.Sprintf("%s/dataCollectionRules/%s/streams/%s?api-version=%s",
		strings.TrimRight(endpoint, "/"), url.PathEscape(ruleID), url.PathEscape(stream), APIVersion)
}

// MarshalBatch serializes records as a JSON array. A single record is still an array and
// an empty batch is [].
func MarshalBatch(records []cloudspending.SubscriptionRecord) ([]byte, error) {
	if records == nil {
		records = []cloudspending.SubscriptionRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	return b, nil
}

// FallbackPayload is the one-field diagnostic record sent after a rejected batch.
func FallbackPayload(now time.Time) []byte {
	b, _ := json.Marshal([]map[string]string{{"TimeGenerated": now.UTC().Format(time.RFC3339)}})
	return b
}

// Backup writes the serialized batch to BackupDir/payload-<runID>.json.
func (s *Sender) Backup(runID string, records []cloudspending.SubscriptionRecord) (string, error) {
	payload, err := MarshalBatch(records)
	if err != nil {
		return "", err
	}
	return s.writeBackup(runID, payload)
}

func (s *Sender) writeBackup(runID string, payload []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}
	path := filepath.Join(s.cfg.BackupDir, BackupName(runID))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	slog.Info("ingestion.backup.written", "path", path, "bytes", len(payload))
	return path, nil
}

// Send backs up and posts the batch. On rejection it logs the status and body, posts the
// fallback record once and returns a *DeliveryError.
func (s *Sender) Send(ctx context.Context, runID string, records []cloudspending.SubscriptionRecord) error {
	payload, err := MarshalBatch(records)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		slog.Warn("ingestion.send.empty", "run_id", runID)
		return nil
	}
	if _, err := s.writeBackup(runID, payload); err != nil {
		// best effort: a missing backup does not stop delivery
		slog.Warn("ingestion.backup.error", "run_id", runID, "error", err)
	}

	target := StreamURL(s.cfg.Endpoint, s.cfg.RuleID, s.cfg.TableName)
	slog.Info("ingestion.send.start", "run_id", runID, "records", len(records), "bytes", len(payload), "url", target)
	status, body, err := s.post(ctx, target, payload)
	if err == nil {
		s.observer.ObserveDelivery(PayloadBatch, OutcomeDelivered)
		slog.Info("ingestion.send.done", "run_id", runID, "status", status)
		return nil
	}
	s.observer.ObserveDelivery(PayloadBatch, OutcomeFailed)
	slog.Error("ingestion.send.error", "run_id", runID, "status", status, "body", body, "error", err)

	derr := &DeliveryError{StatusCode: status, Body: body, Err: err}
	fstatus, fbody, ferr := s.post(ctx, target, FallbackPayload(s.now()))
	if ferr != nil {
		s.observer.ObserveDelivery(PayloadFallback, OutcomeFailed)
		slog.Error("ingestion.fallback.error", "run_id", runID, "status", fstatus, "body", fbody, "error", ferr)
		return derr
	}
	derr.FallbackDelivered = true
	s.observer.ObserveDelivery(PayloadFallback, OutcomeDelivered)
	// endpoint and auth work, so the batch shape was rejected
	slog.Warn("ingestion.fallback.delivered", "run_id", runID, "status", fstatus)
	return derr
}

// post sends one payload. It returns the response status and, for failures, the body.
func (s *Sender) post(ctx context.Context, target string, payload []byte) (int, string, error) {
	tok, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{s.cfg.Audience}})
	if err != nil {
		return 0, "", fmt.Errorf("failed to get ingestion token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to post payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, string(body), fmt.Errorf("%w: %d", ErrRejected, resp.StatusCode)
}
