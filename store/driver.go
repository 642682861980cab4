package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/syssam/velomigrate/schema"
)

// Driver opens connections to stores of one location scheme.
type Driver interface {
	Open(ctx context.Context, location *url.URL, model *schema.Model, opts Options) (Conn, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, location *url.URL, model *schema.Model, opts Options) (Conn, error)

// Open calls f(ctx, location, model, opts).
func (f DriverFunc) Open(ctx context.Context, location *url.URL, model *schema.Model, opts Options) (Conn, error) {
	return f(ctx, location, model, opts)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available for the given location scheme. It
// panics if the driver is nil or the scheme is already registered.
func Register(scheme string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("store: Register driver is nil")
	}
	if _, dup := drivers[scheme]; dup {
		panic("store: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = d
}

// Drivers returns the sorted list of registered schemes.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	schemes := make([]string, 0, len(drivers))
	for s := range drivers {
		schemes = append(schemes, s)
	}
	slices.Sort(schemes)
	return schemes
}

// ParseLocation parses a store location and checks that a driver is
// registered for its scheme.
func ParseLocation(location string) (*url.URL, Driver, error) {
	if location == "" {
		return nil, nil, errors.New("store: empty location")
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, nil, fmt.Errorf("store: parse location: %w", err)
	}
	if u.Scheme == "" {
		return nil, nil, fmt.Errorf("store: location %q has no scheme", location)
	}
	driversMu.RLock()
	d, ok := drivers[u.Scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("store: unknown scheme %q (forgotten import?)", u.Scheme)
	}
	return u, d, nil
}

// Open opens a connection to the store at location.
func Open(ctx context.Context, location string, model *schema.Model, opts Options) (Conn, error) {
	if model == nil {
		return nil, errors.New("store: nil model")
	}
	u, d, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return d.Open(ctx, u, model, opts.Clone())
}
