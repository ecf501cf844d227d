package ingest

import (
	"database/sql"
	"time"

	"autocmx/internal/auth"
	"autocmx/internal/db"
)

// Decision is the outcome of evaluating one post against a test. It is
// computed without I/O; Apply folds it into the stored test.
type Decision struct {
	State db.State
	// RecordAPI is set when the post determines the test's api value.
	RecordAPI bool
	API       sql.NullString
	// Complete is set only on acceptance; failures never touch the flag.
	Complete bool
	// Payload is the classified post; nil for bad_post and bad_secret.
	Payload Payload
	// Err names the failure kind for every state except complete.
	Err error
}

// Accepted reports whether the post passed every check.
func (d Decision) Accepted() bool {
	return d.State == db.StateComplete
}

// Evaluate runs the post state machine. raw is the extracted payload and ok
// reports whether extraction found one; secret is the test's stored secret.
func Evaluate(secret string, raw []byte, ok bool) Decision {
	if !ok {
		return Decision{State: db.StateBadPost, Err: ErrMalformedPayload}
	}
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return Decision{State: db.StateBadPost, Err: err}
	}

	offered, isString := env.OfferedSecret()
	if !isString || !auth.SecretsMatch(offered, secret) {
		return Decision{State: db.StateBadSecret, Err: ErrSecretMismatch}
	}

	payload := env.Classify()
	switch p := payload.(type) {
	case UnknownVersion:
		return Decision{
			State:     db.StateBadAPI,
			RecordAPI: true,
			API:       sql.NullString{String: p.Raw, Valid: p.Present},
			Payload:   p,
			Err:       ErrUnsupportedVersion,
		}
	default:
		return Decision{
			State:     db.StateComplete,
			RecordAPI: true,
			API:       sql.NullString{String: p.Version(), Valid: true},
			Complete:  true,
			Payload:   p,
		}
	}
}

// Apply returns t updated with the decision and the receive time.
func (d Decision) Apply(t db.Test, receivedAt time.Time) db.Test {
	t.DataAt = sql.NullTime{Time: receivedAt, Valid: true}
	t.State = d.State
	if d.RecordAPI {
		t.API = d.API
	}
	if d.Complete {
		t.Complete = true
	}
	return t
}
