// Package ingest receives telemetry posts for a test, records the outcome on
// the test and fans accepted device observations out into the client store.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"autocmx/internal/auth"
	"autocmx/internal/db"
	"autocmx/internal/logging"
)

// ErrTestNotFound is returned when a post addresses an unknown test id.
var ErrTestNotFound = errors.New("test not found")

const logPreview = 100

// TestStore loads a test and persists the result of a post.
type TestStore interface {
	Get(ctx context.Context, id string) (db.Test, error)
	RecordPost(ctx context.Context, t db.Test) error
}

// ObservationStore upserts the clients of one post.
type ObservationStore interface {
	UpsertMany(ctx context.Context, clients []db.Client) error
}

// Post is a received request body together with its outcome.
type Post struct {
	TestID     string    `json:"test_id"`
	State      db.State  `json:"state"`
	ReceivedAt time.Time `json:"received_at"`
	Body       string    `json:"body"`
}

// Archiver keeps a copy of every post addressed to a known test.
type Archiver interface {
	Archive(ctx context.Context, p Post) error
}

// StateChange is published after a test's state is persisted.
type StateChange struct {
	TestID   string    `json:"test_id"`
	State    db.State  `json:"state"`
	API      *string   `json:"api"`
	Complete bool      `json:"complete"`
	DataAt   time.Time `json:"data_at"`
}

// Notifier announces state changes.
type Notifier interface {
	Notify(ctx context.Context, c StateChange) error
}

// Result summarizes one handled post.
type Result struct {
	TestID string
	State  db.State
	// Version is the declared protocol version, empty for bad_post/bad_secret.
	Version string
	// Observations is the number of clients upserted.
	Observations int
	// Skipped counts entries dropped from the fan-out.
	Skipped int
	// Err is the failure kind for non-complete states.
	Err error
}

type Service struct {
	tests    TestStore
	clients  ObservationStore
	archiver Archiver
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(tests TestStore, clients ObservationStore, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		tests:   tests,
		clients: clients,
		logger:  logger,
		now:     db.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest handles one post for testID. raw and ok come from ExtractPayload.
// The test is persisted on every branch; the returned error is reserved for
// an unknown test and storage failures.
func (s *Service) Ingest(ctx context.Context, testID string, raw []byte, ok bool) (Result, error) {
	log := s.logger.With("test", testID)

	test, err := s.tests.Get(ctx, testID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("post for unknown test")
		return Result{TestID: testID}, ErrTestNotFound
	}
	if err != nil {
		return Result{TestID: testID}, fmt.Errorf("load test: %w", err)
	}

	receivedAt := s.now()
	decision := Evaluate(test.Secret, raw, ok)
	test = decision.Apply(test, receivedAt)

	res := Result{TestID: testID, State: decision.State, Err: decision.Err}
	if decision.Payload != nil {
		res.Version = decision.Payload.Version()
	}
	s.logDecision(log, decision, raw)

	if err := s.tests.RecordPost(ctx, test); err != nil {
		return res, fmt.Errorf("persist test state: %w", err)
	}

	s.archive(ctx, log, Post{TestID: testID, State: decision.State, ReceivedAt: receivedAt, Body: string(raw)})
	s.notify(ctx, log, test)

	devices, isDevices := decision.Payload.(DevicesPayload)
	if !decision.Accepted() || !isDevices {
		return res, nil
	}
	if !devices.DevicesSeen() {
		log.Warn("ignoring post for event we do not store", "type", devices.Type)
		return res, nil
	}

	clients, skipped := s.observations(log, testID, devices.Data)
	res.Skipped = skipped
	if err := s.clients.UpsertMany(ctx, clients); err != nil {
		return res, fmt.Errorf("store observations: %w", err)
	}
	res.Observations = len(clients)
	log.Info("stored observations", "count", len(clients), "skipped", skipped)
	return res, nil
}

// observations maps the DevicesSeen entries that carry a location to client
// rows. Entries without a location are skipped silently; entries that are not
// objects or have no MAC are skipped with a warning.
func (s *Service) observations(log *slog.Logger, testID string, data json.RawMessage) ([]db.Client, int) {
	seen, err := DecodeDevicesSeen(data)
	if err != nil {
		log.Warn("could not read observations", "error", err)
		return nil, 0
	}

	clients := make([]db.Client, 0, len(seen.Observations))
	skipped := 0
	for i, entry := range seen.Observations {
		o, coerced, err := DecodeObservation(entry)
		switch {
		case errors.Is(err, ErrNoLocation):
			skipped++
			continue
		case err != nil:
			log.Warn("skipping observation", "index", i, "error", err)
			skipped++
			continue
		}
		if len(coerced) > 0 {
			log.Warn("observation fields unreadable, stored as zero", "index", i, "mac", o.ClientMac, "fields", coerced)
		}
		clients = append(clients, db.Client{
			Mac:          o.ClientMac,
			Test:         testID,
			SeenString:   o.SeenTime,
			SeenMillis:   o.SeenEpoch,
			Lat:          o.Lat,
			Lng:          o.Lng,
			Unc:          o.Unc,
			Manufacturer: o.Manufacturer,
			OS:           o.OS,
			SSID:         o.SSID,
			Floors:       "",
		})
	}
	return clients, skipped
}

func (s *Service) logDecision(log *slog.Logger, d Decision, raw []byte) {
	switch d.State {
	case db.StateBadPost:
		log.Warn("could not parse post body", "body", logging.Truncate(string(raw), logPreview), "error", d.Err)
	case db.StateBadSecret:
		log.Warn("post with bad secret", "secret_sha256", offeredSecretHash(raw))
	case db.StateBadAPI:
		log.Warn("post with unknown api version", "version", d.API.String)
	case db.StateComplete:
		log.Info("post accepted", "version", d.Payload.Version(),
			"data", logging.Truncate(d.Payload.Content(), logPreview))
	}
}

// offeredSecretHash identifies the offered secret in logs without
// writing it out.
func offeredSecretHash(raw []byte) string {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return ""
	}
	secret, ok := env.OfferedSecret()
	if !ok {
		return ""
	}
	return auth.HashToken(secret)[:12]
}

func (s *Service) archive(ctx context.Context, log *slog.Logger, p Post) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, p); err != nil {
		log.Error("archive post", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, log *slog.Logger, t db.Test) {
	if s.notifier == nil {
		return
	}
	change := StateChange{
		TestID:   t.ID,
		State:    t.State,
		Complete: t.Complete,
		DataAt:   t.DataAt.Time,
	}
	if t.API.Valid {
		api := t.API.String
		change.API = &api
	}
	if err := s.notifier.Notify(ctx, change); err != nil {
		log.Error("notify state change", "error", err)
	}
}
