package schemas

import (
	"time"

	"autocmx/internal/db"
)

type TestOut struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Case      string     `json:"case"`
	Secret    string     `json:"secret"`
	API       *string    `json:"api"`
	PushURL   string     `json:"pushUrl"`
	Validator string     `json:"validator"`
	Complete  bool       `json:"complete"`
	State     db.State   `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DataAt    *time.Time `json:"dataAt"`
}

func NewTestOut(t db.Test) TestOut {
	out := TestOut{
		ID:        t.ID,
		Name:      t.Name,
		Case:      t.Case,
		Secret:    t.Secret,
		PushURL:   t.PushURL,
		Validator: t.Validator,
		Complete:  t.Complete,
		State:     t.State,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.API.Valid {
		api := t.API.String
		out.API = &api
	}
	if t.DataAt.Valid {
		at := t.DataAt.Time
		out.DataAt = &at
	}
	return out
}

func NewTestList(ts []db.Test) []TestOut {
	out := make([]TestOut, 0, len(ts))
	for _, t := range ts {
		out = append(out, NewTestOut(t))
	}
	return out
}

type ClientOut struct {
	Mac          string    `json:"mac"`
	Test         string    `json:"test"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Unc          float64   `json:"unc"`
	SeenString   string    `json:"seenString"`
	SeenMillis   int64     `json:"seenMillis"`
	Manufacturer string    `json:"manufacturer"`
	OS           string    `json:"os"`
	SSID         string    `json:"ssid"`
	Floors       string    `json:"floors"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewClientOut(c db.Client) ClientOut {
	return ClientOut{
		Mac:          c.Mac,
		Test:         c.Test,
		Lat:          c.Lat,
		Lng:          c.Lng,
		Unc:          c.Unc,
		SeenString:   c.SeenString,
		SeenMillis:   c.SeenMillis,
		Manufacturer: c.Manufacturer,
		OS:           c.OS,
		SSID:         c.SSID,
		Floors:       c.Floors,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func NewClientList(cs []db.Client) []ClientOut {
	out := make([]ClientOut, 0, len(cs))
	for _, c := range cs {
		out = append(out, NewClientOut(c))
	}
	return out
}

// IngestResp is the body returned to a CMX server after a post.
type IngestResp struct {
	State        db.State `json:"state"`
	Observations int      `json:"observations"`
}

type ErrResp struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
