package exchange

import (
	"time"

	"github.com/ab180/exchange/coordinator"
	"github.com/ab180/exchange/output"
	"github.com/creasty/defaults"
)

type Options struct {
	// BaseDir is a directory where spool directories of exchanges are created.
	BaseDir string `default:"/tmp/exchange"`

	EtcdEndpoints []string `default:"[\"127.0.0.1:2379\"]"`
	EtcdNamespace string   `default:"exchange/"`
	EtcdOptions   coordinator.EtcdOptions

	// Output configures compression of spooled files. Encryption keys are given per exchange.
	Output output.PipelineOptions

	Publish PublishOptions
}

type PublishOptions struct {
	Timeout    time.Duration `default:"3s"`
	RetryCount int           `default:"3"`
	RetryDelay time.Duration `default:"100ms"`
}

func DefaultOptions() (o Options) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}
