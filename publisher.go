package exchange

import (
	"context"
	"path"

	"github.com/ab180/exchange/buffers"
	"github.com/ab180/exchange/coordinator"
	"github.com/ab180/exchange/pkg/retry"
	"github.com/airbloc/logger"
	"github.com/pkg/errors"
)

const (
	exchangesNs     = "exchanges"
	destinationsSfx = "destinations"
)

func destinationsKey(exchangeID string) string {
	return path.Join(exchangesNs, exchangeID, destinationsSfx)
}

// Publisher stores destination sets of an exchange on the coordinator,
// so that consumers on other nodes can discover their buffers.
type Publisher struct {
	crd coordinator.Coordinator
	key string
	opt PublishOptions
	log logger.Logger
}

func NewPublisher(crd coordinator.Coordinator, exchangeID string, opt PublishOptions) *Publisher {
	return &Publisher{
		crd: crd,
		key: destinationsKey(exchangeID),
		opt: opt,
		log: logger.New("destination-publisher"),
	}
}

// Publish is a buffers.Observer. Failures are logged and never returned to the assigner.
func (p *Publisher) Publish(set buffers.DestinationSet) {
	err := retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), p.opt.Timeout)
		defer cancel()
		return p.crd.Put(ctx, p.key, set)
	}, retry.WithRetryCount(p.opt.RetryCount), retry.WithDelay(p.opt.RetryDelay))
	if err != nil {
		p.log.Error("Failed to publish destinations {} to {}", err, set, p.key)
		return
	}
	p.log.Verbose("Published destinations {} to {}", set, p.key)
}

// LoadDestinations reads the latest published destination set of an exchange.
func LoadDestinations(ctx context.Context, crd coordinator.Coordinator, exchangeID string) (buffers.DestinationSet, error) {
	var set buffers.DestinationSet
	if err := crd.Get(ctx, destinationsKey(exchangeID), &set); err != nil {
		return set, errors.Wrapf(err, "load destinations of %s", exchangeID)
	}
	return set, nil
}

// LoadAllDestinations reads the latest published destination sets of every exchange, keyed by exchange ID.
func LoadAllDestinations(ctx context.Context, crd coordinator.Coordinator) (map[string]buffers.DestinationSet, error) {
	items, err := crd.Scan(ctx, exchangesNs+"/")
	if err != nil {
		return nil, errors.Wrap(err, "scan destinations")
	}
	sets := make(map[string]buffers.DestinationSet, len(items))
	for _, item := range items {
		dir, name := path.Split(item.Key)
		if name != destinationsSfx {
			continue
		}
		var set buffers.DestinationSet
		if err := item.Unmarshal(&set); err != nil {
			return nil, errors.Wrapf(err, "unmarshal %s", item.Key)
		}
		sets[path.Base(dir)] = set
	}
	return sets, nil
}
