package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/wholesum/bazaar/config"
	"github.com/wholesum/bazaar/module"
	"github.com/wholesum/bazaar/module/component"
	"github.com/wholesum/bazaar/module/irrecoverable"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/network/alsp/manager"
	"github.com/wholesum/bazaar/network/netconf"
	"github.com/wholesum/bazaar/network/p2p"
	"github.com/wholesum/bazaar/network/p2p/keyutils"
	"github.com/wholesum/bazaar/network/p2p/unicast"
	"github.com/wholesum/bazaar/network/p2p/utils"
	"github.com/wholesum/bazaar/storage/content"
	"github.com/wholesum/bazaar/storage/datastore"
)

// InitializeFlags registers the flags shared by every node on flags.
func InitializeFlags(flags *pflag.FlagSet) {
	config.InitializeBaseFlags(flags)
	netconf.InitializeNetworkFlags(flags, netconf.DefaultConfig())
}

// NodeBuilder assembles the components of a node. Errors returned while
// building are configuration errors; errors from the network are returned as
// network.SubstrateError.
type NodeBuilder struct {
	name string

	Logger   zerolog.Logger
	Viper    *viper.Viper
	Base     config.BaseConfig
	Network  netconf.Config
	Key      crypto.PrivKey
	Registry *prometheus.Registry

	NetworkMetrics *metrics.NetworkCollector
	Scorer         *manager.MisbehaviorReportManager
	Node           *p2p.Node

	startables []startableComponent
	shutdown   []func() error
}

type startableComponent interface {
	module.Startable
	module.ReadyDoneAware
}

// NewNodeBuilder loads the configuration bound to flags, initializes the
// logger and loads the networking key.
func NewNodeBuilder(name string, flags *pflag.FlagSet) (*NodeBuilder, error) {
	v, err := config.NewViper(flags)
	if err != nil {
		return nil, err
	}
	base, err := config.LoadBase(v)
	if err != nil {
		return nil, err
	}
	netCfg, err := netconf.Load(v)
	if err != nil {
		return nil, err
	}

	b := &NodeBuilder{
		name:     name,
		Viper:    v,
		Base:     base,
		Network:  netCfg,
		Registry: prometheus.NewRegistry(),
	}
	if err := b.initLogger(); err != nil {
		return nil, err
	}

	b.Key, err = keyutils.LoadOrGenerateKey(base.KeyPath, base.GenerateKey)
	if err != nil {
		return nil, fmt.Errorf("could not load networking key: %w", err)
	}
	id, err := keyutils.PeerID(b.Key)
	if err != nil {
		return nil, fmt.Errorf("could not derive peer id: %w", err)
	}
	b.Logger = b.Logger.With().Str("peer_id", id.String()).Logger()

	b.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.NetworkMetrics = metrics.NewNetworkCollector(b.Registry)
	return b, nil
}

func (b *NodeBuilder) initLogger() error {
	// configure logger with standard level, node name and UTC timestamp
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Str("node", b.name).Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(b.Base.LogLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", b.Base.LogLevel, err)
	}
	b.Logger = log.Level(lvl)
	return nil
}

// ContentStore opens the configured content storage, with retries on
// transient failures.
func (b *NodeBuilder) ContentStore(ctx context.Context) (content.Store, error) {
	var store content.Store
	switch b.Base.Storage {
	case config.StorageS3:
		s3cfg := content.S3Config{
			Bucket:       b.Base.S3Bucket,
			Prefix:       b.Base.S3Prefix,
			Region:       b.Base.S3Region,
			Endpoint:     b.Base.S3Endpoint,
			UsePathStyle: b.Base.S3Endpoint != "",
		}
		client, err := content.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("could not create s3 client: %w", err)
		}
		store, err = content.NewS3Store(client, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("could not create s3 store: %w", err)
		}
	default:
		mgr, err := b.Datastore(datastore.Kind(b.Base.Storage), filepath.Join(b.Base.DataDir, "blobs"))
		if err != nil {
			return nil, err
		}
		store = content.NewDatastoreStore(mgr.Datastore())
	}

	storageMetrics := metrics.NewStorageCollector(b.Registry)
	return content.NewRetryingStore(b.Logger, store, storageMetrics, content.DefaultRetryConfig()), nil
}

// Datastore opens a datastore of the given kind at path. It is closed when
// the node shuts down.
func (b *NodeBuilder) Datastore(kind datastore.Kind, path string) (datastore.Manager, error) {
	if kind == datastore.Badger {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("could not create %s: %w", path, err)
		}
	}
	mgr, err := datastore.Open(kind, path)
	if err != nil {
		return nil, fmt.Errorf("could not open datastore at %s: %w", path, err)
	}
	b.shutdown = append(b.shutdown, mgr.Close)
	return mgr, nil
}

// BuildNetwork creates the libp2p node and the peer scorer. bootnode selects
// the bootnode personality.
func (b *NodeBuilder) BuildNetwork(bootnode bool) error {
	scorer, err := manager.NewMisbehaviorReportManager(&manager.MisbehaviorReportManagerConfig{
		Logger:              b.Logger,
		SpamRecordCacheSize: b.Network.SpamRecordCacheSize,
		Metrics:             b.NetworkMetrics,
		HeartBeatInterval:   b.Network.HeartBeatInterval,
	})
	if err != nil {
		return err
	}

	builder := p2p.NewNodeBuilder(b.Logger, b.Key)
	if bootnode {
		builder = p2p.NewBootnodeBuilder(b.Logger, b.Key)
	} else {
		builder.SetMDNS(b.Network.MDNS).SetSeenMessagesTTL(b.Network.SeenMessagesTTL)
	}
	node, err := builder.
		SetListenAddrs(b.Network.ListenAddrs...).
		SetBootnodes(b.Network.Bootnodes...).
		SetMetrics(b.NetworkMetrics).
		SetMisbehaviorReporter(scorer).
		SetDisallowListOracle(scorer).
		Build()
	if err != nil {
		return err
	}
	scorer.Subscribe(node)

	for _, addr := range node.Host().Addrs() {
		b.Logger.Info().Str("address", fmt.Sprintf("%s/p2p/%s", addr, node.ID())).Msg("listening")
	}

	b.Scorer = scorer
	b.Node = node
	b.Component(scorer)
	b.Component(node)
	return nil
}

// Unicast creates the request/response service of the node.
func (b *NodeBuilder) Unicast(opts ...unicast.Option) (*unicast.Service, error) {
	limiter, err := utils.NewRateLimiter(rate.Limit(b.Network.MessageRateLimit), b.Network.MessageBurst, b.Network.LockoutDuration)
	if err != nil {
		return nil, fmt.Errorf("could not create rate limiter: %w", err)
	}
	opts = append([]unicast.Option{
		unicast.WithRateLimiter(limiter),
		unicast.WithMisbehaviorReporter(b.Scorer),
		unicast.WithMetrics(b.NetworkMetrics),
		unicast.WithTimeout(b.Network.UnicastTimeout),
		unicast.WithSendAttempts(b.Network.UnicastSendAttempts),
	}, opts...)
	svc := unicast.NewService(b.Logger, b.Node.Host(), opts...)
	b.shutdown = append(b.shutdown, func() error {
		svc.Close()
		return nil
	})
	return svc, nil
}

// Component adds a component started with the node.
func (b *NodeBuilder) Component(c startableComponent) {
	b.startables = append(b.startables, c)
}

// Build returns the node running every added component, and the metrics
// server when configured.
func (b *NodeBuilder) Build() *Node {
	cmb := component.NewComponentManagerBuilder()
	for _, c := range b.startables {
		c := c
		cmb.AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			c.Start(ctx)
			select {
			case <-c.Ready():
				ready()
			case <-ctx.Done():
				return
			}
			<-c.Done()
		})
	}
	if b.Base.MetricsAddr != "" {
		server := metrics.NewServer(b.Logger, b.Base.MetricsAddr, b.Registry)
		cmb.AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			server.Start(ctx)
			select {
			case <-server.Ready():
				ready()
			case <-ctx.Done():
			}
			<-server.Done()
		})
	}

	return &Node{
		ComponentManager: cmb.Build(),
		Logger:           b.Logger,
		name:             b.name,
		postShutdown: func() error {
			var result error
			for i := len(b.shutdown) - 1; i >= 0; i-- {
				if err := b.shutdown[i](); err != nil {
					result = multierror.Append(result, err)
				}
			}
			return result
		},
	}
}
