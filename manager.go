package exchange

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ab180/exchange/buffers"
	"github.com/ab180/exchange/coordinator"
	"github.com/ab180/exchange/metric"
	"github.com/ab180/exchange/output"
	"github.com/airbloc/logger"
	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var log = logger.New("exchange")

var (
	ErrExchangeExists   = errors.New("exchange already exists")
	ErrExchangeNotFound = errors.New("exchange not found")
	ErrInvalidID        = errors.New("invalid exchange ID")
)

// Manager creates exchanges under a base directory and keeps track of running ones.
type Manager struct {
	opt Options
	crd coordinator.Coordinator

	// ownsCoordinator is true when the coordinator has been connected by the manager.
	ownsCoordinator bool

	mu        sync.Mutex
	exchanges map[string]*Exchange

	// closed keeps counters of finished and aborted exchanges, keyed by "<id>/<name>".
	closed metric.Metrics
}

// WithCoordinator makes the manager publish destination sets of its exchanges to crd.
func WithCoordinator(crd coordinator.Coordinator) func(*Manager) {
	return func(m *Manager) {
		m.crd = crd
	}
}

func NewManager(opt Options, opts ...func(*Manager)) (*Manager, error) {
	if err := os.MkdirAll(opt.BaseDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create base directory %s", opt.BaseDir)
	}
	m := &Manager{
		opt:       opt,
		exchanges: make(map[string]*Exchange),
		closed:    make(metric.Metrics),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// ConnectManager connects to etcd with given options and creates a Manager publishing to it.
func ConnectManager(optionalOpt ...Options) (*Manager, error) {
	opt := DefaultOptions()
	if len(optionalOpt) > 0 {
		opt = optionalOpt[0]
	}
	etcd, err := coordinator.NewEtcd(opt.EtcdEndpoints, opt.EtcdNamespace, opt.EtcdOptions)
	if err != nil {
		return nil, errors.Wrap(err, "connect etcd")
	}
	m, err := NewManager(opt, WithCoordinator(etcd))
	if err != nil {
		_ = etcd.Close()
		return nil, err
	}
	m.ownsCoordinator = true
	return m, nil
}

// Create starts a new exchange of given destination type. Pages are encrypted
// with key when it's not nil.
func (m *Manager) Create(id string, typ buffers.Type, key *output.KeyMaterial) (*Exchange, error) {
	if id == "" || filepath.Base(id) != id || id == "." || id == ".." {
		return nil, errors.Wrapf(ErrInvalidID, "%q", id)
	}
	p, err := output.NewPipeline(m.pipelineOptions(key))
	if err != nil {
		return nil, errors.Wrapf(err, "create pipeline of %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exchanges[id]; ok {
		return nil, errors.Wrapf(ErrExchangeExists, "%s", id)
	}
	dir := m.dirOf(id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrExchangeExists, "%s", id)
		}
		return nil, errors.Wrapf(err, "create spool directory of %s", id)
	}

	var pub *Publisher
	if m.crd != nil {
		pub = NewPublisher(m.crd, id, m.opt.Publish)
	}
	e := newExchange(id, dir, typ, p, pub, func(last metric.Metrics) { m.forget(id, last) })
	m.exchanges[id] = e
	log.Info("Created {} exchange {} ({})", typ, id, p.Layout())
	return e, nil
}

// Get returns a running exchange.
func (m *Manager) Get(id string) (*Exchange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exchanges[id]
	return e, ok
}

// Running returns IDs of exchanges which are neither finished nor aborted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Keys(m.exchanges)
}

func (m *Manager) forget(id string, last metric.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.exchanges, id)
	m.closed.Add(last.WithPrefix(metricsPrefix(id)))
}

// Metrics returns counters of every exchange the manager has created, keyed by "<id>/<name>".
func (m *Manager) Metrics() metric.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := make(metric.Metrics)
	total.Add(m.closed)
	for id, e := range m.exchanges {
		total.Add(e.Metrics().WithPrefix(metricsPrefix(id)))
	}
	return total
}

// ExchangeMetrics returns counters of a single exchange, running or not.
func (m *Manager) ExchangeMetrics(id string) metric.Metrics {
	return m.Metrics().Filter(metricsPrefix(id))
}

// IDs can't contain a slash, so it separates them from counter names.
func metricsPrefix(id string) string {
	return id + "/"
}

// ReadManifest reads the manifest of a finished exchange.
func (m *Manager) ReadManifest(id string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(m.dirOf(id), manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrExchangeNotFound, "%s", id)
		}
		return nil, errors.Wrap(err, "read manifest")
	}
	var man Manifest
	if err := jsoniter.Unmarshal(data, &man); err != nil {
		return nil, errors.Wrap(err, "unmarshal manifest")
	}
	return &man, nil
}

// OpenReader opens the spooled file of a buffer. key must be the one the exchange was created with.
func (m *Manager) OpenReader(id string, buf buffers.ID, key *output.KeyMaterial) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(m.dirOf(id), bufferFileName(buf)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrExchangeNotFound, "buffer %s of %s", buf, id)
		}
		return nil, errors.Wrapf(err, "open buffer %s of %s", buf, id)
	}
	r, err := output.OpenSource(f, m.pipelineOptions(key))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// Remove deletes spooled files of a finished exchange and its published destinations.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if _, running := m.Get(id); running {
		return errors.Errorf("exchange %s is still running", id)
	}
	var errs *multierror.Error
	if err := os.RemoveAll(m.dirOf(id)); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "remove spool directory"))
	}
	if m.crd != nil {
		if _, err := m.crd.Delete(ctx, destinationsKey(id)); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "delete destinations"))
		}
	}
	return errs.ErrorOrNil()
}

// PublishedDestinations returns the latest destination sets published by any manager
// sharing the coordinator, keyed by exchange ID.
func (m *Manager) PublishedDestinations(ctx context.Context) (map[string]buffers.DestinationSet, error) {
	if m.crd == nil {
		return nil, errors.New("manager has no coordinator")
	}
	return LoadAllDestinations(ctx, m.crd)
}

// Close aborts running exchanges and closes the coordinator if the manager has connected it.
func (m *Manager) Close() error {
	m.mu.Lock()
	running := lo.Values(m.exchanges)
	m.mu.Unlock()

	var errs *multierror.Error
	for _, e := range running {
		log.Warn("Aborting unfinished exchange {}", e.ID())
		if err := e.Abort(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "abort %s", e.ID()))
		}
	}
	if m.ownsCoordinator {
		if err := m.crd.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "close coordinator"))
		}
	}
	return errs.ErrorOrNil()
}

func (m *Manager) dirOf(id string) string {
	return filepath.Join(m.opt.BaseDir, id)
}

func (m *Manager) pipelineOptions(key *output.KeyMaterial) output.PipelineOptions {
	opts := m.opt.Output
	opts.Encryption = key
	return opts
}
