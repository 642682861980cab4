package store_test

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/store"
)

func TestRef(t *testing.T) {
	t.Parallel()

	r := store.Ref{Entity: "Book", ID: "1"}
	assert.Equal(t, "Book/1", r.String())
	assert.False(t, r.IsZero())
	assert.True(t, store.Ref{}.IsZero())
}

func TestOptions(t *testing.T) {
	t.Parallel()

	var nilOpts store.Options
	c := nilOpts.Clone()
	require.NotNil(t, c)
	c[store.ReadOnly] = true
	assert.Nil(t, nilOpts)

	opts := store.Options{
		store.ReadOnly:           "true",
		store.Debug:              false,
		store.SlowQueryThreshold: "250ms",
		store.FileMode:           "0640",
		"bad":                    42,
	}
	b, err := opts.Bool(store.ReadOnly, false)
	require.NoError(t, err)
	assert.True(t, b)
	b, err = opts.Bool(store.Debug, true)
	require.NoError(t, err)
	assert.False(t, b)
	b, err = opts.Bool(store.CreateSchema, true)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = opts.Bool("bad", false)
	assert.Error(t, err)

	d, err := opts.Duration(store.SlowQueryThreshold)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	_, err = opts.Duration("bad")
	assert.Error(t, err)

	m, err := opts.FileMode(store.FileMode, 0o600)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), m)
	m, err = store.Options{}.FileMode(store.FileMode, 0o600)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), m)

	clone := opts.Clone()
	clone[store.ReadOnly] = false
	assert.Equal(t, "true", opts[store.ReadOnly])
}

func TestRegistry(t *testing.T) {
	model, err := schema.New(schema.Define("A"))
	require.NoError(t, err)

	var gotOpts store.Options
	store.Register("registrytest", store.DriverFunc(func(_ context.Context, u *url.URL, _ *schema.Model, opts store.Options) (store.Conn, error) {
		assert.Equal(t, "name", u.Host)
		gotOpts = opts
		return nil, nil
	}))
	assert.Contains(t, store.Drivers(), "registrytest")
	assert.Panics(t, func() {
		store.Register("registrytest", store.DriverFunc(nil))
	})
	assert.Panics(t, func() { store.Register("nil", nil) })

	opts := store.Options{"k": "v"}
	_, err = store.Open(context.Background(), "registrytest://name", model, opts)
	require.NoError(t, err)
	gotOpts["k"] = "changed"
	assert.Equal(t, "v", opts["k"], "driver must receive a copy of the options")

	for _, loc := range []string{"", "no-scheme", "unknown://x", "%zz://"} {
		_, _, err := store.ParseLocation(loc)
		assert.Error(t, err, loc)
	}
	_, err = store.Open(context.Background(), "registrytest://name", nil, nil)
	assert.Error(t, err)
}

func TestOptions_Logger(t *testing.T) {
	assert.Same(t, slog.Default(), store.Options{}.Logger())
	assert.Same(t, slog.Default(), store.Options{store.Logger: "stderr"}.Logger())
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Same(t, l, store.Options{store.Logger: l}.Logger())
}

func TestReordered(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ids       []store.ID
		front     []store.ID
		want      []store.ID
		missing   store.ID
		wantValid bool
	}{
		{"Swap", []store.ID{"b", "a"}, []store.ID{"a", "b"}, []store.ID{"a", "b"}, "", true},
		{"Partial", []store.ID{"c", "b", "a"}, []store.ID{"a"}, []store.ID{"a", "c", "b"}, "", true},
		{"Empty", []store.ID{"a", "b"}, nil, []store.ID{"a", "b"}, "", true},
		{"Duplicate", []store.ID{"b", "a"}, []store.ID{"a", "a"}, []store.ID{"a", "b"}, "", true},
		{"Missing", []store.ID{"a"}, []store.ID{"a", "x"}, nil, "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, missing, ok := store.Reordered(tt.ids, tt.front)
			assert.Equal(t, tt.wantValid, ok)
			assert.Equal(t, tt.missing, missing)
			assert.Equal(t, tt.want, got)
		})
	}
}
