// Package audit sends best-effort login events to the audit log and
// observability services. Failures are logged and counted, never returned.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
	"github.com/kweaver-ai/consolegate/internal/logger"
	"github.com/kweaver-ai/consolegate/internal/metrics"
	"github.com/kweaver-ai/consolegate/internal/oauth"
)

const (
	AuditLoginPath         = "/api/audit-log/v1/log/login"
	ObservabilityLoginPath = "/api/observability/v1/events/login"

	// DefaultTimeout bounds each side-channel call
	DefaultTimeout = 3 * time.Second
)

// LoginEvent describes one successful login
type LoginEvent struct {
	Product   string
	Flow      string
	UserID    string
	UserName  string
	ClientIP  string
	UserAgent string
	IDToken   string
	At        time.Time
}

type auditRecord struct {
	ID        string `json:"id"`
	OpType    string `json:"op_type"`
	Level     string `json:"level"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Product   string `json:"product"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"msg"`
	Timestamp int64  `json:"timestamp"`
}

type observabilityEvent struct {
	EventID    string            `json:"event_id"`
	Event      string            `json:"event"`
	Timestamp  string            `json:"timestamp"`
	Subject    string            `json:"subject"`
	Attributes map[string]string `json:"attributes"`
}

// Recorder posts login events
type Recorder struct {
	client  *http.Client
	timeout time.Duration
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewRecorder creates a Recorder. client should be the side-channel preset.
func NewRecorder(client *http.Client, log logger.Logger, m *metrics.Metrics) *Recorder {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = logger.NoOp()
	}
	return &Recorder{client: client, timeout: DefaultTimeout, logger: log, metrics: m}
}

// RecordLogin writes the audit record then the observability event. Both are
// attempted regardless of the other's outcome.
func (r *Recorder) RecordLogin(ctx context.Context, cfg *discovery.ServiceConfig, ev LoginEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	sid := ""
	if claims, ok := oauth.PeekClaims(ev.IDToken); ok {
		sid = claims.SessionID
	}
	eventID := uuid.NewString()

	record := auditRecord{
		ID:        eventID,
		OpType:    "login",
		Level:     "INFO",
		UserID:    ev.UserID,
		UserName:  ev.UserName,
		Product:   ev.Product,
		ClientIP:  ev.ClientIP,
		UserAgent: ev.UserAgent,
		SessionID: sid,
		Message:   fmt.Sprintf("user %q logged in to %s via %s", ev.UserName, ev.Product, ev.Flow),
		Timestamp: ev.At.UnixMicro(),
	}
	if err := r.post(ctx, cfg.AuditLog.URL(AuditLoginPath), record); err != nil {
		r.discard("audit", err)
	}

	event := observabilityEvent{
		EventID:   eventID,
		Event:     "user.login",
		Timestamp: ev.At.UTC().Format(time.RFC3339Nano),
		Subject:   ev.UserID,
		Attributes: map[string]string{
			"product":   ev.Product,
			"flow":      ev.Flow,
			"client_ip": ev.ClientIP,
		},
	}
	if sid != "" {
		event.Attributes["sid"] = sid
	}
	if err := r.post(ctx, cfg.Observability.URL(ObservabilityLoginPath), event); err != nil {
		r.discard("observability", err)
	}
}

func (r *Recorder) discard(channel string, err error) {
	r.metrics.SideChannelFailed(channel)
	r.logger.Errorf("%v", gwerrors.NewSideChannelFailure(channel, err))
}

func (r *Recorder) post(ctx context.Context, target string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) // Safe to ignore: draining body on defer
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", target, resp.StatusCode)
	}
	return nil
}
