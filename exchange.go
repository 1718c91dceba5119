package exchange

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ab180/exchange/buffers"
	"github.com/ab180/exchange/metric"
	"github.com/ab180/exchange/output"
	"github.com/airbloc/logger"
	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/therne/errorist"
	"golang.org/x/sync/errgroup"
)

// ErrExchangeClosed is returned when writing to or finishing an exchange which has been finished or aborted.
var ErrExchangeClosed = errors.New("exchange is closed")

const (
	manifestFileName = "manifest.json"
	filePerm         = 0o644
)

type state int

const (
	stateOpen state = iota
	stateFinished
	stateFailed
	stateAborted
)

// Exchange spools pages produced by a task into one file per destination buffer.
// Destinations are added through its Assigner, and a sink is opened for every new buffer.
type Exchange struct {
	id        string
	dir       string
	pipeline  *output.Pipeline
	assigner  *buffers.Assigner
	selector  *buffers.Selector
	publisher *Publisher

	mu    sync.Mutex
	known buffers.DestinationSet
	sinks map[buffers.ID]*output.Sink
	state state

	metrics metric.Repository
	onClose func(metric.Metrics)
	log     logger.Logger
}

func newExchange(id, dir string, typ buffers.Type, p *output.Pipeline, pub *Publisher, onClose func(metric.Metrics)) *Exchange {
	empty := buffers.NewDestinationSet(typ)
	e := &Exchange{
		id:        id,
		dir:       dir,
		pipeline:  p,
		selector:  buffers.NewSelector(empty),
		publisher: pub,
		known:     empty,
		sinks:     make(map[buffers.ID]*output.Sink),
		metrics:   metric.NewRepository(),
		onClose:   onClose,
		log:       logger.New("exchange"),
	}
	e.assigner = buffers.NewAssigner(typ, e.onDestinationsChanged, buffers.WithName(id))
	return e
}

func (e *Exchange) onDestinationsChanged(set buffers.DestinationSet) {
	e.mu.Lock()
	for _, id := range set.NewIDs(e.known) {
		path := e.pathOf(id)
		raw := output.LazyOpened(func() (io.WriteCloser, error) {
			return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
		})
		e.sinks[id] = output.NewSink(raw, e.pipeline)
		e.log.Verbose("Added buffer {} to {}", id, e.id)
	}
	e.known = set
	e.selector.Reset(set)
	e.metrics.SetMetric("buffers", int64(len(e.sinks)))
	e.mu.Unlock()

	if e.publisher != nil {
		e.publisher.Publish(set)
	}
}

func (e *Exchange) ID() string {
	return e.id
}

// Assigner is used by the scheduler to add consumers of this exchange.
func (e *Exchange) Assigner() *buffers.Assigner {
	return e.assigner
}

// Destinations returns the latest destination set seen by the exchange.
func (e *Exchange) Destinations() buffers.DestinationSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.known
}

// Write appends a page to the buffers chosen by the destination policy.
// partitionKey is only used by partitioned exchanges.
func (e *Exchange) Write(partitionKey string, page []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateOpen {
		return ErrExchangeClosed
	}
	ids, err := e.selector.Select(partitionKey)
	if err != nil {
		return errors.Wrapf(err, "select destination of %s", e.id)
	}
	targets := make([]output.Output, len(ids))
	for i, id := range ids {
		targets[i] = e.sinks[id]
	}
	if err := output.NewComposed(targets...).Write(page).Get(); err != nil {
		return errors.Wrapf(err, "write page to %s", e.id)
	}
	e.metrics.AddMetric("pages", 1)
	e.metrics.AddMetric("bytes", int64(len(page)*len(ids)))
	return nil
}

// Finish seals the destinations, flushes every sink and writes the manifest.
// A cancelled ctx leaves the exchange open. Once finished, the spooled files are kept
// until Manager.Remove.
func (e *Exchange) Finish(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "finish %s", e.id)
	}
	e.assigner.Seal()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateOpen {
		return ErrExchangeClosed
	}
	e.state = stateFailed
	defer e.close()

	var wg errgroup.Group
	for id, sink := range e.sinks {
		id, sink := id, sink
		wg.Go(func() error {
			if err := sink.Finish().Get(); err != nil {
				return errors.Wrapf(err, "finish buffer %s", id)
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	if err := e.writeManifest(); err != nil {
		return err
	}
	e.state = stateFinished
	e.log.Info("Finished {} with {} buffers ({})", e.id, len(e.sinks), e.metrics.Collect())
	return nil
}

// Abort seals the destinations, closes every sink and removes the spooled files.
// It can be called after a failed Finish. Aborting twice or aborting a finished
// exchange is a no-op.
func (e *Exchange) Abort() error {
	e.assigner.Seal()

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateAborted, stateFinished:
		return nil
	case stateOpen:
		defer e.close()
	}
	e.state = stateAborted

	var errs *multierror.Error
	for id, sink := range e.sinks {
		if err := sink.Abort().Get(); err != nil && !errors.Is(err, output.ErrClosed) {
			errs = multierror.Append(errs, errors.Wrapf(err, "abort buffer %s", id))
		}
	}
	if err := os.RemoveAll(e.dir); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "remove spool directory"))
	}
	e.log.Info("Aborted {}", e.id)
	return errs.ErrorOrNil()
}

// close hands the final counters over to the manager.
func (e *Exchange) close() {
	e.onClose(e.metrics.Collect())
}

// Metrics returns counters of pages and bytes written to the exchange.
func (e *Exchange) Metrics() metric.Metrics {
	return e.metrics.Collect()
}

func (e *Exchange) pathOf(id buffers.ID) string {
	return filepath.Join(e.dir, bufferFileName(id))
}

func bufferFileName(id buffers.ID) string {
	return fmt.Sprintf("buffer-%d.data", id)
}

// Manifest describes a finished exchange. It is stored next to the spooled files.
type Manifest struct {
	Exchange     string                 `json:"exchange"`
	Layout       string                 `json:"layout"`
	Destinations buffers.DestinationSet `json:"destinations"`
	Files        []ManifestFile         `json:"files"`
}

type ManifestFile struct {
	Buffer buffers.ID `json:"buffer"`
	Name   string     `json:"name"`

	// Bytes is the number of page bytes before compression and encryption.
	Bytes int64 `json:"bytes"`
}

func (e *Exchange) manifest() Manifest {
	m := Manifest{
		Exchange:     e.id,
		Layout:       e.pipeline.Layout().String(),
		Destinations: e.known,
	}
	for _, id := range e.known.IDs() {
		m.Files = append(m.Files, ManifestFile{
			Buffer: id,
			Name:   bufferFileName(id),
			Bytes:  e.sinks[id].BytesWritten(),
		})
	}
	return m
}

func (e *Exchange) writeManifest() (err error) {
	f, err := os.OpenFile(filepath.Join(e.dir, manifestFileName), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return errors.Wrap(err, "create manifest")
	}
	defer errorist.CloseWithErrCapture(f, &err, errorist.Wrapf("close manifest"))

	if err := jsoniter.NewEncoder(f).Encode(e.manifest()); err != nil {
		return errors.Wrap(err, "write manifest")
	}
	return nil
}
