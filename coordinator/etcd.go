package coordinator

import (
	"context"
	"time"

	"github.com/airbloc/logger"
	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"github.com/therne/errorist"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/namespace"
	"google.golang.org/grpc"
)

type Etcd struct {
	Client  *clientv3.Client
	KV      clientv3.KV
	Watcher clientv3.Watcher

	log    logger.Logger
	option EtcdOptions
}

type EtcdOptions struct {
	DialTimeout time.Duration `default:"5s"`
	OpTimeout   time.Duration `default:"3s"`
}

func DefaultEtcdOptions() (o EtcdOptions) {
	if err := defaults.Set(&o); err != nil {
		panic(err)
	}
	return
}

// NewEtcd connects to etcd. Every key is prefixed with nsPrefix.
func NewEtcd(endpoints []string, nsPrefix string, opts ...EtcdOptions) (Coordinator, error) {
	option := DefaultEtcdOptions()
	if len(opts) > 0 {
		option = opts[0]
	}

	cfg := clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: option.DialTimeout,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
	}
	cli, err := clientv3.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Etcd{
		Client:  cli,
		KV:      namespace.NewKV(cli, nsPrefix),
		Watcher: namespace.NewWatcher(cli, nsPrefix),
		log:     logger.New("etcd"),
		option:  option,
	}, nil
}

func (e *Etcd) Get(ctx context.Context, key string, valuePtr interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	resp, err := e.KV.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return ErrNotFound
	}
	return jsoniter.Unmarshal(resp.Kvs[0].Value, valuePtr)
}

func (e *Etcd) Scan(ctx context.Context, prefix string) (results []RawItem, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	resp, err := e.KV.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return
	}
	for _, kv := range resp.Kvs {
		results = append(results, RawItem{
			Key:   string(kv.Key),
			Value: kv.Value,
		})
	}
	return
}

func (e *Etcd) Put(ctx context.Context, key string, value interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	jsonVal, err := jsoniter.MarshalToString(value)
	if err != nil {
		return err
	}
	_, err = e.KV.Put(ctx, key, jsonVal)
	return err
}

func (e *Etcd) Watch(ctx context.Context, prefix string) <-chan WatchEvent {
	watchChan := make(chan WatchEvent)

	wc := e.Watcher.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		defer func() {
			if err := errorist.WrapPanic(recover()); err != nil {
				e.log.Error("Panic occurred while watching prefix {}", err, prefix)
			}
		}()
		defer close(watchChan)
		for wr := range wc {
			if err := wr.Err(); err != nil {
				e.log.Error("watch error", err)
				continue
			}
			for _, ev := range wr.Events {
				var event WatchEvent
				switch ev.Type {
				case mvccpb.PUT:
					event = WatchEvent{
						Type: PutEvent,
						Item: RawItem{Key: string(ev.Kv.Key), Value: ev.Kv.Value},
					}
				case mvccpb.DELETE:
					event = WatchEvent{
						Type: DeleteEvent,
						Item: RawItem{Key: string(ev.Kv.Key)},
					}
				default:
					continue
				}
				select {
				case watchChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return watchChan
}

func (e *Etcd) Delete(ctx context.Context, prefix string) (deleted int64, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.option.OpTimeout)
	defer cancel()

	var opts []clientv3.OpOption
	if prefix == "" {
		prefix = "\x00"
		opts = append(opts, clientv3.WithFromKey())
	} else {
		opts = append(opts, clientv3.WithPrefix())
	}
	resp, err := e.KV.Delete(ctx, prefix, opts...)
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (e *Etcd) Close() error {
	return e.Client.Close()
}
