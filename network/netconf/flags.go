package netconf

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wholesum/bazaar/network/alsp"
	"github.com/wholesum/bazaar/network/p2p"
	"github.com/wholesum/bazaar/network/p2p/unicast"
)

const (
	// All constant strings are used for CLI flag names and corresponding keys for config values.
	listen    = "listen"
	bootnodes = "bootnodes"
	mdns      = "mdns"
	seenTTL   = "gossip-seen-messages-ttl"
	// request/response
	unicastTimeout      = "unicast-timeout"
	unicastSendAttempts = "unicast-send-attempts"
	// inbound request rate limiter
	messageRateLimit = "unicast-message-rate-limit"
	messageBurst     = "unicast-message-burst-limit"
	lockoutDuration  = "unicast-lockout-duration"
	// application layer spam prevention (alsp)
	alspSpamRecordCacheSize = "alsp-spam-record-cache-size"
	alspHeartBeatInterval   = "alsp-heart-beat-interval"
)

// Config is the networking configuration shared by every node.
type Config struct {
	ListenAddrs     []multiaddr.Multiaddr
	Bootnodes       []peer.AddrInfo
	MDNS            bool
	SeenMessagesTTL time.Duration

	UnicastTimeout      time.Duration
	UnicastSendAttempts uint64

	// MessageRateLimit is the number of inbound requests per second a peer may send.
	MessageRateLimit float64
	MessageBurst     int
	LockoutDuration  time.Duration

	SpamRecordCacheSize uint32
	HeartBeatInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MDNS:                true,
		SeenMessagesTTL:     p2p.DefaultSeenMessagesTTL,
		UnicastTimeout:      unicast.DefaultRequestTimeout,
		UnicastSendAttempts: unicast.DefaultSendAttempts,
		MessageRateLimit:    20,
		MessageBurst:        40,
		LockoutDuration:     10 * time.Second,
		SpamRecordCacheSize: alsp.DefaultSpamRecordCacheSize,
		HeartBeatInterval:   time.Second,
	}
}

func AllFlagNames() []string {
	return []string{
		listen, bootnodes, mdns, seenTTL, unicastTimeout, unicastSendAttempts,
		messageRateLimit, messageBurst, lockoutDuration, alspSpamRecordCacheSize, alspHeartBeatInterval,
	}
}

// InitializeNetworkFlags initializes all CLI flags for the network configuration on the provided pflag set.
func InitializeNetworkFlags(flags *pflag.FlagSet, config Config) {
	flags.StringSlice(listen, p2p.DefaultListenAddrs, "multiaddrs to listen on")
	flags.StringSlice(bootnodes, nil, "multiaddrs of bootnodes, each ending in /p2p/<peer id>")
	flags.Bool(mdns, config.MDNS, "discover peers on the local network")
	flags.Duration(seenTTL, config.SeenMessagesTTL, "how long a gossip message id is remembered to drop duplicates")
	flags.Duration(unicastTimeout, config.UnicastTimeout, "how long a request/response exchange can take to complete")
	flags.Uint64(unicastSendAttempts, config.UnicastSendAttempts, "number of attempts to deliver a request on transport failures")
	flags.Float64(messageRateLimit, config.MessageRateLimit, "maximum number of requests a peer can send per second")
	flags.Int(messageBurst, config.MessageBurst, "number of requests a peer can send at once")
	flags.Duration(lockoutDuration, config.LockoutDuration, "how long a rate limited peer is refused")
	flags.Uint32(alspSpamRecordCacheSize, config.SpamRecordCacheSize, "number of peers whose penalties are tracked")
	flags.Duration(alspHeartBeatInterval, config.HeartBeatInterval, "interval at which peer penalties decay")
}

// Load reads the network configuration from conf, which must have the
// network flags bound.
func Load(conf *viper.Viper) (Config, error) {
	cfg := Config{
		MDNS:                conf.GetBool(mdns),
		SeenMessagesTTL:     conf.GetDuration(seenTTL),
		UnicastTimeout:      conf.GetDuration(unicastTimeout),
		UnicastSendAttempts: conf.GetUint64(unicastSendAttempts),
		MessageRateLimit:    conf.GetFloat64(messageRateLimit),
		MessageBurst:        conf.GetInt(messageBurst),
		LockoutDuration:     conf.GetDuration(lockoutDuration),
		SpamRecordCacheSize: conf.GetUint32(alspSpamRecordCacheSize),
		HeartBeatInterval:   conf.GetDuration(alspHeartBeatInterval),
	}

	for _, s := range conf.GetStringSlice(listen) {
		addr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid listen address %q: %w", s, err)
		}
		cfg.ListenAddrs = append(cfg.ListenAddrs, addr)
	}
	for _, s := range conf.GetStringSlice(bootnodes) {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid bootnode address %q: %w", s, err)
		}
		cfg.Bootnodes = append(cfg.Bootnodes, *info)
	}

	switch {
	case cfg.UnicastTimeout <= 0:
		return Config{}, fmt.Errorf("%s must be positive", unicastTimeout)
	case cfg.UnicastSendAttempts == 0:
		return Config{}, fmt.Errorf("%s must be positive", unicastSendAttempts)
	case cfg.MessageRateLimit <= 0 || cfg.MessageBurst <= 0:
		return Config{}, fmt.Errorf("rate limits must be positive")
	}
	return cfg, nil
}
