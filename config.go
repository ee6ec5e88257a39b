package quic

import (
	"errors"
	"time"

	"github.com/minq-project/minq/internal/protocol"
)

// TokenStore is used to store tokens received from the server to perform address validation in the future.
type TokenStore interface {
	Pop(key string) (token *ClientToken)
	Put(key string, token *ClientToken)
}

// A Config contains all configuration data needed for a QUIC server or client.
type Config struct {
	HandshakeIdleTimeout time.Duration
	MaxIdleTimeout       time.Duration

	InitialStreamReceiveWindow     uint64
	MaxStreamReceiveWindow         uint64
	InitialConnectionReceiveWindow uint64
	MaxConnectionReceiveWindow     uint64

	AllowConnectionWindowIncrease func(conn Connection, delta uint64) bool

	MaxIncomingStreams    int64
	MaxIncomingUniStreams int64

	TokenStore TokenStore
	Allow0RTT  bool

	EnableDatagrams bool

	DisablePathMTUDiscovery bool

	KeepAlivePeriod time.Duration

	InitialPacketSize uint16

	ActiveConnectionIDLimit uint64
}

func (c *Config) Clone() *Config {
	copied := *c
	return &copied
}

func validateConfig(config *Config) error {
	if config == nil {
		return nil
	}
	if config.MaxIncomingStreams > 1<<60 {
		return errors.New("invalid value for Config.MaxIncomingStreams")
	}
	if config.MaxIncomingUniStreams > 1<<60 {
		return errors.New("invalid value for Config.MaxIncomingUniStreams")
	}
	return nil
}

func populateConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	handshakeIdleTimeout := protocol.DefaultHandshakeTimeout
	if config.HandshakeIdleTimeout != 0 {
		handshakeIdleTimeout = config.HandshakeIdleTimeout
	}
	idleTimeout := protocol.DefaultIdleTimeout
	if config.MaxIdleTimeout != 0 {
		idleTimeout = config.MaxIdleTimeout
	}
	initialStreamReceiveWindow := uint64(protocol.DefaultInitialMaxStreamData)
	if config.InitialStreamReceiveWindow != 0 {
		initialStreamReceiveWindow = config.InitialStreamReceiveWindow
	}
	maxStreamReceiveWindow := uint64(protocol.DefaultMaxReceiveStreamFlowControlWindow)
	if config.MaxStreamReceiveWindow != 0 {
		maxStreamReceiveWindow = config.MaxStreamReceiveWindow
	}
	initialConnectionReceiveWindow := uint64(protocol.DefaultInitialMaxData)
	if config.InitialConnectionReceiveWindow != 0 {
		initialConnectionReceiveWindow = config.InitialConnectionReceiveWindow
	}
	maxConnectionReceiveWindow := uint64(protocol.DefaultMaxReceiveConnectionFlowControlWindow)
	if config.MaxConnectionReceiveWindow != 0 {
		maxConnectionReceiveWindow = config.MaxConnectionReceiveWindow
	}
	maxIncomingStreams := config.MaxIncomingStreams
	if maxIncomingStreams == 0 {
		maxIncomingStreams = protocol.DefaultMaxIncomingStreams
	} else if maxIncomingStreams < 0 {
		maxIncomingStreams = 0
	}
	maxIncomingUniStreams := config.MaxIncomingUniStreams
	if maxIncomingUniStreams == 0 {
		maxIncomingUniStreams = protocol.DefaultMaxIncomingUniStreams
	} else if maxIncomingUniStreams < 0 {
		maxIncomingUniStreams = 0
	}
	activeConnectionIDLimit := config.ActiveConnectionIDLimit
	if activeConnectionIDLimit == 0 {
		activeConnectionIDLimit = protocol.DefaultActiveConnectionIDLimit
	}
	initialPacketSize := config.InitialPacketSize
	if initialPacketSize == 0 {
		initialPacketSize = uint16(protocol.MinInitialPacketSize)
	}

	return &Config{
		HandshakeIdleTimeout:            handshakeIdleTimeout,
		MaxIdleTimeout:                  idleTimeout,
		InitialStreamReceiveWindow:      initialStreamReceiveWindow,
		MaxStreamReceiveWindow:          maxStreamReceiveWindow,
		InitialConnectionReceiveWindow:  initialConnectionReceiveWindow,
		MaxConnectionReceiveWindow:      maxConnectionReceiveWindow,
		AllowConnectionWindowIncrease:   config.AllowConnectionWindowIncrease,
		MaxIncomingStreams:              maxIncomingStreams,
		MaxIncomingUniStreams:           maxIncomingUniStreams,
		TokenStore:                      config.TokenStore,
		Allow0RTT:                       config.Allow0RTT,
		EnableDatagrams:                 config.EnableDatagrams,
		DisablePathMTUDiscovery:         config.DisablePathMTUDiscovery,
		KeepAlivePeriod:                 config.KeepAlivePeriod,
		InitialPacketSize:               initialPacketSize,
		ActiveConnectionIDLimit:         activeConnectionIDLimit,
	}
}

// ClientToken is a token received by the client.
// It can be used to verify the ownership of the client's address.
type ClientToken struct {
	data []byte
	rtt  time.Duration
}

type ctxKey int
