package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autocmx/internal/config"
	"autocmx/internal/db"
	"autocmx/internal/db/dbtest"
)

func newRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	cfg := config.Default()
	cfg.Secret = "default-secret"
	cfg.Hostname = "cmx.local"
	cfg.Port = 4567

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(db.NewTests(dbtest.Open(t)), cfg)
	r.now = func() time.Time { return clock }
	seq := 0
	r.newID = func() string {
		seq++
		return "test-" + string(rune('0'+seq))
	}
	return r, &clock
}

func validInput() TestInput {
	return TestInput{Name: "t1", Case: "c1", Secret: "abc", Validator: "v"}
}

func TestCreate(t *testing.T) {
	r, clock := newRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, validInput())
	require.NoError(t, err)

	assert.Equal(t, "test-1", created.ID)
	assert.Equal(t, db.StateNoData, created.State)
	assert.False(t, created.Complete)
	assert.False(t, created.API.Valid)
	assert.Equal(t, "http://cmx.local:4567/data/test-1", created.PushURL)
	assert.True(t, clock.Equal(created.CreatedAt))
	assert.True(t, clock.Equal(created.UpdatedAt))

	stored, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.Secret)
	assert.Equal(t, "v", stored.Validator)
}

func TestCreateDefaultsSecret(t *testing.T) {
	r, _ := newRegistry(t)
	in := validInput()
	in.Secret = ""

	created, err := r.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "default-secret", created.Secret)
}

func TestCreateIgnoresClientComplete(t *testing.T) {
	r, _ := newRegistry(t)
	in := validInput()
	in.Complete = true

	created, err := r.Create(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created.Complete)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TestInput)
		fields []string
	}{
		{"missing name", func(in *TestInput) { in.Name = "" }, []string{"name"}},
		{"blank name", func(in *TestInput) { in.Name = "   " }, []string{"name"}},
		{"missing case", func(in *TestInput) { in.Case = "" }, []string{"case"}},
		{"missing validator", func(in *TestInput) { in.Validator = "" }, []string{"validator"}},
		{"blank validator", func(in *TestInput) { in.Validator = "\t" }, []string{"validator"}},
		{"name too long", func(in *TestInput) { in.Name = strings.Repeat("n", 31) }, []string{"name"}},
		{"case too long", func(in *TestInput) { in.Case = strings.Repeat("c", 21) }, []string{"case"}},
		{"several at once", func(in *TestInput) {
			in.Name = ""
			in.Case = strings.Repeat("c", 21)
			in.Validator = ""
		}, []string{"name", "case", "validator"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRegistry(t)
			in := validInput()
			tt.mutate(&in)

			_, err := r.Create(context.Background(), in)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Len(t, verr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}

			list, err := r.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, list, "invalid tests are not persisted")
		})
	}
}

func TestLengthBoundsAreInclusiveAndCountRunes(t *testing.T) {
	r, _ := newRegistry(t)
	in := validInput()
	in.Name = strings.Repeat("é", 30)
	in.Case = strings.Repeat("c", 20)

	_, err := r.Create(context.Background(), in)
	assert.NoError(t, err)
}

func TestUpdate(t *testing.T) {
	r, clock := newRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, validInput())
	require.NoError(t, err)

	// simulate a post having landed
	created.State = db.StateBadSecret
	require.NoError(t, r.RecordPost(ctx, created))

	*clock = clock.Add(time.Minute)
	updated, err := r.Update(ctx, created.ID, TestInput{Name: "t2", Case: "c2", Secret: "xyz", Validator: "v2", Complete: true})
	require.NoError(t, err)

	assert.Equal(t, "t2", updated.Name)
	assert.Equal(t, "xyz", updated.Secret)
	assert.True(t, updated.Complete)
	assert.Equal(t, db.StateNoData, updated.State, "edit resets state")
	assert.True(t, clock.Equal(updated.UpdatedAt))

	stored, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", stored.Validator)
	assert.True(t, created.CreatedAt.Equal(stored.CreatedAt), "created_at is immutable")
}

func TestUpdateErrors(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Update(ctx, "missing", validInput())
	assert.ErrorIs(t, err, db.ErrNotFound)

	// an unknown id wins over an invalid edit
	_, err = r.Update(ctx, "missing", TestInput{})
	assert.ErrorIs(t, err, db.ErrNotFound)
	var notValid *ValidationError
	assert.False(t, errors.As(err, &notValid))

	created, err := r.Create(ctx, validInput())
	require.NoError(t, err)
	in := validInput()
	in.Secret = ""
	_, err = r.Update(ctx, created.ID, in)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestDelete(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, validInput())
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, created.ID))
	assert.ErrorIs(t, r.Delete(ctx, created.ID), db.ErrNotFound)
	_, err = r.Get(ctx, created.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMarkCompleteToggles(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, validInput())
	require.NoError(t, err)

	got, err := r.MarkComplete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Equal(t, db.StateComplete, got.State)

	got, err = r.MarkComplete(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.Complete)
	assert.Equal(t, db.StateComplete, got.State)

	_, err = r.MarkComplete(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRecordPost(t *testing.T) {
	r, clock := newRegistry(t)
	ctx := context.Background()

	created, err := r.Create(ctx, validInput())
	require.NoError(t, err)

	*clock = clock.Add(time.Hour)
	created.State = db.StateBadAPI
	created.API = sql.NullString{String: "3.0", Valid: true}
	created.DataAt = sql.NullTime{Time: *clock, Valid: true}
	require.NoError(t, r.RecordPost(ctx, created))

	stored, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StateBadAPI, stored.State)
	assert.Equal(t, "3.0", stored.API.String)
	assert.True(t, clock.Equal(stored.UpdatedAt))

	assert.ErrorIs(t, r.RecordPost(ctx, db.Test{ID: "missing"}), db.ErrNotFound)
}

func TestListOrder(t *testing.T) {
	r, clock := newRegistry(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		in := validInput()
		in.Name = name
		_, err := r.Create(ctx, in)
		require.NoError(t, err)
		*clock = clock.Add(time.Second)
	}

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].Name)
	assert.Equal(t, "third", list[2].Name)
}
