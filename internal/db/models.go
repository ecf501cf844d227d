package db

import (
	"database/sql"
	"strconv"
	"time"
)

// State is the diagnostic status of a test, rewritten on every post.
type State string

const (
	StateNoData    State = "no_data_received"
	StateBadPost   State = "bad_post"
	StateBadSecret State = "bad_secret"
	StateBadAPI    State = "bad_api"
	StateComplete  State = "complete"
)

type Test struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	Case      string         `db:"test_case"`
	Secret    string         `db:"secret"`
	API       sql.NullString `db:"api"`
	PushURL   string         `db:"push_url"`
	Validator string         `db:"validator"`
	Complete  bool           `db:"complete"`
	State     State          `db:"state"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
	DataAt    sql.NullTime   `db:"data_at"`
}

// APIVersion returns the recorded protocol version as a number, when it is one.
func (t Test) APIVersion() (float64, bool) {
	if !t.API.Valid {
		return 0, false
	}
	v, err := strconv.ParseFloat(t.API.String, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (t *Test) normalize() {
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if t.DataAt.Valid {
		t.DataAt.Time = t.DataAt.Time.UTC()
	}
}

// Client is the last known position of one device, keyed by MAC.
type Client struct {
	Mac          string    `db:"mac"`
	Test         string    `db:"test"`
	SeenString   string    `db:"seen_string"`
	SeenMillis   int64     `db:"seen_millis"`
	Lat          float64   `db:"lat"`
	Lng          float64   `db:"lng"`
	Unc          float64   `db:"unc"`
	Manufacturer string    `db:"manufacturer"`
	OS           string    `db:"os"`
	SSID         string    `db:"ssid"`
	Floors       string    `db:"floors"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (c *Client) normalize() {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
}
