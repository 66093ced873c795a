package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	opensearchclient "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/e1c-ops/eventlog-watcher/internal/settings"
	"github.com/e1c-ops/eventlog-watcher/internal/sink"
)

// indexSettings is applied when the target index does not exist yet.
const indexSettings = `{"settings":{"index":{"number_of_shards":4}}}`

// Sender indexes event records into an OpenSearch index, one document
// per record.
type Sender struct {
	host     string
	port     int
	login    string
	password string
	index    string

	client *opensearchclient.Client
	logger hclog.Logger
}

type document struct {
	TS          string   `json:"ts"`
	Tags        []string `json:"tags"`
	Datetime    int64    `json:"Datetime"`
	ServiceName string   `json:"serviceName"`
	// Field name carries the historical misspelling; it matches the
	// mapping of indexes already in production.
	ServiceVersion string         `json:"seviceVersion"`
	Name           any            `json:"name"`
	Params         map[string]any `json:"params"`
	SessionID      any            `json:"sessionID"`
	UserLogin      any            `json:"userLogin"`
	UserName       any            `json:"userName"`
	UserNode       any            `json:"userNode"`
}

func NewSender(s *settings.Settings, logger hclog.Logger) *Sender {
	return &Sender{
		host:     s.GetString("receiver-parameters/opensearch/host"),
		port:     s.GetInt("receiver-parameters/opensearch/port"),
		login:    s.GetString("receiver-parameters/opensearch/login"),
		password: s.GetString("receiver-parameters/opensearch/password"),
		index:    s.GetString("receiver-parameters/opensearch/index"),
		logger:   logger,
	}
}

// Start connects to the cluster and provisions the index when missing.
func (s *Sender) Start(ctx context.Context) error {
	client, err := opensearchclient.NewClient(opensearchclient.Config{
		Addresses:           []string{fmt.Sprintf("http://%s:%d", s.host, s.port)},
		Username:            s.login,
		Password:            s.password,
		CompressRequestBody: true,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return fmt.Errorf("creating opensearch client: %w", err)
	}
	s.client = client

	return s.ensureIndex(ctx)
}

func (s *Sender) ensureIndex(ctx context.Context) error {
	exists, err := opensearchapi.IndicesExistsRequest{
		Index: []string{s.index},
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", s.index, err)
	}
	defer exists.Body.Close()

	if exists.StatusCode == http.StatusOK {
		return nil
	}

	create, err := opensearchapi.IndicesCreateRequest{
		Index: s.index,
		Body:  strings.NewReader(indexSettings),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", s.index, err)
	}
	defer create.Body.Close()

	if create.IsError() {
		return fmt.Errorf("creating index %s: %s", s.index, create.String())
	}

	s.logger.Info("created index", "index", s.index)
	return nil
}

// Send indexes one record. The returned marker is the record's date; a
// failed indexing still returns it so the checkpoint can advance.
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
		TS:             event.Date(),
		Tags:           []string{rec.InfobaseID},
		Datetime:       ts.Unix(),
		ServiceName:    rec.ServiceName,
		ServiceVersion: rec.ServiceVersion,
		Name:           event.Field("EventPresentation"),
		Params:         map[string]any{},
		SessionID:      valueOrEmpty(event.Field("Session")),
		UserLogin:      event.Field("User"),
		UserName:       event.Field("UserName"),
		UserNode:       valueOrEmpty(event.Field("Computer")),
	}
	event.Params(func(key string, value any) {
		doc.Params[key] = value
	})

	if err := s.indexDocument(ctx, doc); err != nil {
		return event.Date(), err
	}

	return event.Date(), nil
}

func (s *Sender) indexDocument(ctx context.Context, doc document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	resp, err := opensearchapi.IndexRequest{
		Index:   s.index,
		Body:    bytes.NewReader(body),
		Refresh: "true",
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("indexing record: %w", err)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("indexing record: %s", resp.String())
	}

	return nil
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
