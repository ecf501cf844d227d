package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const clientColumns = `mac, test, seen_string, seen_millis, lat, lng, unc, manufacturer, os, ssid, floors, created_at, updated_at`

// One row per MAC across all tests; a later observation overwrites the row
// and re-attributes it to the posting test.
const upsertClient = `insert into clients (` + clientColumns + `)
	values (:mac, :test, :seen_string, :seen_millis, :lat, :lng, :unc, :manufacturer, :os, :ssid, :floors, :created_at, :updated_at)
	on conflict (mac) do update set
		test = excluded.test,
		seen_string = excluded.seen_string,
		seen_millis = excluded.seen_millis,
		lat = excluded.lat,
		lng = excluded.lng,
		unc = excluded.unc,
		manufacturer = excluded.manufacturer,
		os = excluded.os,
		ssid = excluded.ssid,
		floors = excluded.floors,
		updated_at = excluded.updated_at`

// Clients persists device observations.
type Clients struct {
	db *sqlx.DB
}

func NewClients(db *sqlx.DB) *Clients {
	return &Clients{db: db}
}

// UpsertByMac creates the row for c.Mac or overwrites its mutable fields.
// updated_at is always stamped; created_at is only written on insert.
func (s *Clients) UpsertByMac(ctx context.Context, c Client) error {
	return upsertByMac(ctx, s.db, c)
}

// UpsertMany applies every upsert of one post in a single transaction.
func (s *Clients) UpsertMany(ctx context.Context, clients []Client) error {
	if len(clients) == 0 {
		return nil
	}
	return WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for _, c := range clients {
			if err := upsertByMac(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertByMac(ctx context.Context, ext sqlx.ExtContext, c Client) error {
	if c.Mac == "" {
		return errors.New("upsert client: empty mac")
	}
	now := Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if _, err := sqlx.NamedExecContext(ctx, ext, upsertClient, c); err != nil {
		return fmt.Errorf("upsert client %s: %w", c.Mac, err)
	}
	return nil
}

func (s *Clients) FindByMacAndTest(ctx context.Context, mac, testID string) (Client, error) {
	var c Client
	err := s.db.GetContext(ctx, &c,
		s.db.Rebind(`select `+clientColumns+` from clients where mac = ? and test = ?`), mac, testID)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("find client %s: %w", mac, err)
	}
	c.normalize()
	return c, nil
}

func (s *Clients) ListByTest(ctx context.Context, testID string) ([]Client, error) {
	clients := make([]Client, 0)
	err := s.db.SelectContext(ctx, &clients,
		s.db.Rebind(`select `+clientColumns+` from clients where test = ? order by mac`), testID)
	if err != nil {
		return nil, fmt.Errorf("list clients for test %s: %w", testID, err)
	}
	for i := range clients {
		clients[i].normalize()
	}
	return clients, nil
}

// Count returns the total number of stored clients.
func (s *Clients) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `select count(1) from clients`); err != nil {
		return 0, fmt.Errorf("count clients: %w", err)
	}
	return n, nil
}
