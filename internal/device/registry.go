package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/persist"
	"github.com/wapanel/wapanel/internal/store"
)

// Storage modes. A panel runs all devices in one mode; they are never
// mixed.
const (
	StorageLog    = "log"
	StorageSQLite = "sqlite"
)

// ErrUnknownDevice is returned for operations on an unregistered device.
var ErrUnknownDevice = errors.New("unknown device")

// ConnectorFactory builds the protocol connector for a device.
type ConnectorFactory func(ctx context.Context, deviceID string) (Connector, error)

// Options configures a registry.
type Options struct {
	Bus       *bus.Bus
	Logger    *zap.Logger
	DataDir   string
	Retention time.Duration
	Storage   string    // StorageLog or StorageSQLite
	DB        *store.DB // required in sqlite mode
	Connect   ConnectorFactory
}

// Registry owns the set of registered devices. Every component that
// needs a device goes through a registry instance handed to it; there is
// no process-wide device table.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	devices map[string]*Device
}

// NewRegistry validates the storage mode and builds an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	switch opts.Storage {
	case StorageLog:
	case StorageSQLite:
		if opts.DB == nil {
			return nil, errors.New("sqlite storage mode requires a database handle")
		}
	default:
		return nil, fmt.Errorf("unknown storage mode %q", opts.Storage)
	}
	return &Registry{opts: opts, devices: make(map[string]*Device)}, nil
}

func (r *Registry) openStorage(id string) (Storage, error) {
	if r.opts.Storage == StorageSQLite {
		return store.NewSQLStore(r.opts.DB, id, r.opts.Logger.Named("store"))
	}
	dir := filepath.Join(r.opts.DataDir, "devices", id)
	return persist.OpenFileStore(dir, r.opts.Logger.Named("persist").With(zap.String("device", id)))
}

// Add registers a device, hydrates it from any prior durable state and
// starts its protocol connection.
func (r *Registry) Add(ctx context.Context, id string) (*Device, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; ok {
		return nil, fmt.Errorf("device %q already registered", id)
	}

	st, err := r.openStorage(id)
	if err != nil {
		return nil, err
	}

	var conn Connector
	if r.opts.Connect != nil {
		if conn, err = r.opts.Connect(ctx, id); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	logger := r.opts.Logger.Named("device").With(zap.String("device", id))
	d, err := New(id, st, conn, r.opts.Bus, r.opts.Retention, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if conn != nil {
		if err := d.Connect(ctx); err != nil {
			_ = d.Stop()
			return nil, err
		}
	}

	r.devices[id] = d
	r.opts.Logger.Info("device registered", zap.String("device", id))
	return d, nil
}

// Get returns a registered device.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return d, nil
}

// List returns all registered devices ordered by ID.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove unregisters a device and destroys its durable state and wire
// session.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	d, ok := r.devices[id]
	if ok {
		delete(r.devices, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownDevice
	}
	return d.Destroy(ctx)
}

// Restore re-registers every device persisted by a previous run. One
// device failing to restore does not block the others.
func (r *Registry) Restore(ctx context.Context) error {
	ids, err := r.knownDevices()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := r.Add(ctx, id); err != nil {
			r.opts.Logger.Error("restore device", zap.String("device", id), zap.Error(err))
		}
	}
	return nil
}

func (r *Registry) knownDevices() ([]string, error) {
	if r.opts.Storage == StorageSQLite {
		return r.opts.DB.ListDevices()
	}
	entries, err := os.ReadDir(filepath.Join(r.opts.DataDir, "devices"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// StopAll stops every registered device, leaving durable state in place.
func (r *Registry) StopAll() {
	for _, d := range r.List() {
		if err := d.Stop(); err != nil {
			r.opts.Logger.Error("stop device", zap.String("device", d.ID), zap.Error(err))
		}
	}
	r.mu.Lock()
	r.devices = make(map[string]*Device)
	r.mu.Unlock()
}
