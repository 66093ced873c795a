package httpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/e1c-ops/eventlog-watcher/internal/settings"
	"github.com/e1c-ops/eventlog-watcher/internal/sink"
)

// Sender ships event records to an HTTP ingestion endpoint, one POST
// per record.
type Sender struct {
	url        string
	node       string
	httpClient *http.Client
	logger     hclog.Logger
}

type param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type document struct {
	Tags             []string `json:"tags"`
	CreatedAt        int64    `json:"createdAt"`
	MetamodelVersion string   `json:"metamodelVersion"`
	Module           string   `json:"module"`
	Name             any      `json:"name"`
	Params           []param  `json:"params"`
	Session          any      `json:"session"`
	UserLogin        any      `json:"userLogin"`
	UserNode         any      `json:"userNode"`
}

func NewSender(s *settings.Settings, logger hclog.Logger) *Sender {
	return &Sender{
		url: s.GetString("receiver-parameters/http-service/url"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Start resolves the node name reported in the X-Node-ID header.
func (s *Sender) Start(ctx context.Context) error {
	node, err := nodeName()
	if err != nil {
		return fmt.Errorf("resolving node name: %w", err)
	}
	s.node = node
	return nil
}

// nodeName resolves the fully qualified host name through a reverse
// lookup, falling back to the short name when resolution is
// unavailable.
func nodeName() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}

	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname, nil
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname, nil
	}

	return strings.TrimSuffix(names[0], "."), nil
}

// Send posts one record. The returned marker is the record's date; a
// failed delivery still returns it so the checkpoint can advance.
func (s *Sender) Send(ctx context.Context, rec sink.Record) (string, error) {
	event, err := sink.ParseEvent(rec.Line)
	if err != nil {
		return "", err
	}

	ts, err := event.Timestamp()
	if err != nil {
		return event.Date(), nil
	}

	doc := document{
		Tags:             []string{rec.InfobaseID},
		CreatedAt:        ts.Unix() * 1000,
		MetamodelVersion: rec.MetamodelVersion,
		Module:           rec.Module,
		Name:             event.Field("Event"),
		Params:           []param{},
		Session:          valueOrEmpty(event.Field("Session")),
		UserLogin:        event.Field("UserName"),
		UserNode:         valueOrEmpty(event.Field("Computer")),
	}
	event.Params(func(key string, value any) {
		doc.Params = append(doc.Params, param{Name: key, Value: value})
	})

	if err := s.post(ctx, doc); err != nil {
		return event.Date(), err
	}

	return event.Date(), nil
}

func (s *Sender) post(ctx context.Context, doc document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Node-ID", s.node)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		responseBody, _ := io.ReadAll(resp.Body)
		s.logger.Warn("receiver rejected record",
			"status", resp.StatusCode, "body", string(responseBody))
	}

	return nil
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
