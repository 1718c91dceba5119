package integration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ab180/exchange/coordinator"
	"github.com/rs/zerolog/log"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/thoas/go-funk"
)

const (
	etcdEndpointEnvKey  = "EXCHANGE_TEST_ETCD_ENDPOINT"
	defaultEtcdEndpoint = "127.0.0.1:2379"
)

// ProvideEtcd provides coordinator.Etcd on integration tests.
// Otherwise, coordinator.LocalMemory is provided.
func ProvideEtcd() (crd coordinator.Coordinator, closer func()) {
	if !IsIntegrationTest {
		return coordinator.NewLocalMemory(), func() {}
	}
	testNs := fmt.Sprintf("exchange_test_%s/", funk.RandomString(10))

	etcdEndpoint, ok := os.LookupEnv(etcdEndpointEnvKey)
	if !ok {
		etcdEndpoint = defaultEtcdEndpoint
	}
	etcd, err := coordinator.NewEtcd([]string{etcdEndpoint}, testNs)
	So(err, ShouldBeNil)

	// clean all items under test namespace
	closer = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		log.Info().Str("namespace", testNs).Msg("Closing etcd")
		_, err := etcd.Delete(ctx, "")
		So(err, ShouldBeNil)
		So(etcd.Close(), ShouldBeNil)
	}
	return etcd, closer
}
