//go:build linux

// File: loop/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Builder-style configuration. Build validates the connection, buffering,
// sizing and timeout fields and constructs the buffer pool and spill store
// the loop will own. Port and backlog are not validated, and storeSize is
// checked only against its upper bound.

package loop

import (
	"errors"
	"fmt"
	"time"

	"github.com/pbnjay/memory"

	"github.com/momentics/nioloop/core/buffer"
	"github.com/momentics/nioloop/store"
)

// maxStoreSize caps the spill file at 8 GiB.
const maxStoreSize = int64(1) << 33

// DefaultBufferSize is the fixed block size unless overridden.
const DefaultBufferSize = 8192

// Config is the immutable runtime configuration produced by a Builder.
type Config struct {
	name    string
	host    string
	port    int
	backlog int
	daemon  bool

	maxConns       int
	maxServerConns int
	maxClientConns int

	maxReadBuffers  int
	maxWriteBuffers int
	writeSpinCount  int

	connectTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	autoRead     bool
	bufferDirect bool
	bufferSize   int
	poolSize     int64
	storeSize    int64

	bufferPool  buffer.Pool
	bufferStore *store.FileStore

	serverInitializer SessionInitializer
	clientInitializer SessionInitializer
	listener          EventLoopListener
	clock             Clock
}

// Name returns the loop name, used for logging and to name the spill store.
func (c *Config) Name() string { return c.name }

// Host returns the bind/dial host.
func (c *Config) Host() string { return c.host }

// Port returns the bind/dial port.
func (c *Config) Port() int { return c.port }

// Backlog returns the listen backlog.
func (c *Config) Backlog() int { return c.backlog }

// IsDaemon reports the daemon flag; carried for configuration parity, it
// only tags lifecycle log records.
func (c *Config) IsDaemon() bool { return c.daemon }

// MaxConns returns the default slot capacity per session manager.
func (c *Config) MaxConns() int { return c.maxConns }

// MaxServerConns returns the accepted-connection slot capacity.
func (c *Config) MaxServerConns() int { return c.maxServerConns }

// MaxClientConns returns the initiated-connection slot capacity.
func (c *Config) MaxClientConns() int { return c.maxClientConns }

// MaxReadBuffers returns the input backpressure threshold, in buffers.
func (c *Config) MaxReadBuffers() int { return c.maxReadBuffers }

// MaxWriteBuffers returns the resident output buffer budget before spill.
func (c *Config) MaxWriteBuffers() int { return c.maxWriteBuffers }

// WriteSpinCount bounds successful writes per drain invocation.
func (c *Config) WriteSpinCount() int { return c.writeSpinCount }

// ConnectTimeout returns the dial deadline.
func (c *Config) ConnectTimeout() time.Duration { return c.connectTimeout }

// ReadTimeout returns the read idle bound.
func (c *Config) ReadTimeout() time.Duration { return c.readTimeout }

// WriteTimeout returns the write idle bound.
func (c *Config) WriteTimeout() time.Duration { return c.writeTimeout }

// IsAutoRead reports whether sessions assert read interest on open.
func (c *Config) IsAutoRead() bool { return c.autoRead }

// IsBufferDirect reports whether the slab pool variant is selected.
func (c *Config) IsBufferDirect() bool { return c.bufferDirect }

// BufferSize returns the fixed buffer block size.
func (c *Config) BufferSize() int { return c.bufferSize }

// PoolSize returns the memory pool byte budget.
func (c *Config) PoolSize() int64 { return c.poolSize }

// StoreSize returns the spill store byte budget.
func (c *Config) StoreSize() int64 { return c.storeSize }

// BufferPool returns the pool constructed by Build.
func (c *Config) BufferPool() buffer.Pool { return c.bufferPool }

// BufferStore returns the spill store constructed by Build.
func (c *Config) BufferStore() *store.FileStore { return c.bufferStore }

// ServerInitializer returns the accepted-connection initializer, or nil.
func (c *Config) ServerInitializer() SessionInitializer { return c.serverInitializer }

// ClientInitializer returns the initiated-connection initializer, or nil.
func (c *Config) ClientInitializer() SessionInitializer { return c.clientInitializer }

// Listener returns the loop lifecycle listener.
func (c *Config) Listener() EventLoopListener { return c.listener }

// Clock returns the loop time source.
func (c *Config) Clock() Clock { return c.clock }

// Builder accumulates options for one Config.
type Builder struct {
	config *Config
}

// NewBuilder returns a Builder with the documented defaults.
func NewBuilder() *Builder {
	total := int64(memory.TotalMemory())
	storeSize := total * 2
	if storeSize > maxStoreSize || storeSize <= 0 {
		storeSize = maxStoreSize
	}
	return &Builder{config: &Config{
		name:            "nioloop",
		host:            "0.0.0.0",
		port:            9696,
		backlog:         1024,
		maxConns:        10240,
		maxReadBuffers:  8,
		maxWriteBuffers: 64,
		writeSpinCount:  16,
		connectTimeout:  30 * time.Second,
		readTimeout:     30 * time.Second,
		writeTimeout:    60 * time.Second,
		autoRead:        true,
		bufferDirect:    true,
		bufferSize:      DefaultBufferSize,
		poolSize:        total >> 1,
		storeSize:       storeSize,
		clock:           SystemClock,
	}}
}

// SetName names the loop; the name tags log records and names the spill
// store. The spill file path does not include it.
func (b *Builder) SetName(name string) *Builder { b.config.name = name; return b }

// SetDaemon sets the daemon flag.
func (b *Builder) SetDaemon(daemon bool) *Builder { b.config.daemon = daemon; return b }

// SetHost sets the bind/dial host.
func (b *Builder) SetHost(host string) *Builder { b.config.host = host; return b }

// SetPort sets the bind/dial port.
func (b *Builder) SetPort(port int) *Builder { b.config.port = port; return b }

// SetBacklog sets the listen backlog.
func (b *Builder) SetBacklog(backlog int) *Builder { b.config.backlog = backlog; return b }

// SetMaxConns sets the default slot capacity for both session managers.
func (b *Builder) SetMaxConns(n int) *Builder { b.config.maxConns = n; return b }

// SetMaxServerConns overrides the accepted-connection slot capacity.
func (b *Builder) SetMaxServerConns(n int) *Builder { b.config.maxServerConns = n; return b }

// SetMaxClientConns overrides the initiated-connection slot capacity.
func (b *Builder) SetMaxClientConns(n int) *Builder { b.config.maxClientConns = n; return b }

// SetAutoRead controls whether sessions assert read interest on open.
func (b *Builder) SetAutoRead(autoRead bool) *Builder { b.config.autoRead = autoRead; return b }

// SetBufferDirect selects the slab pool (true) or the heap pool (false).
func (b *Builder) SetBufferDirect(direct bool) *Builder { b.config.bufferDirect = direct; return b }

// SetBufferSize sets the buffer block size; must be a power of two.
func (b *Builder) SetBufferSize(size int) *Builder { b.config.bufferSize = size; return b }

// SetPoolSize sets the memory pool byte budget.
func (b *Builder) SetPoolSize(size int64) *Builder { b.config.poolSize = size; return b }

// SetStoreSize sets the spill store byte budget.
func (b *Builder) SetStoreSize(size int64) *Builder { b.config.storeSize = size; return b }

// SetMaxReadBuffers sets the input backpressure threshold. The product
// with the buffer size should exceed the largest protocol packet.
func (b *Builder) SetMaxReadBuffers(n int) *Builder { b.config.maxReadBuffers = n; return b }

// SetMaxWriteBuffers sets the resident output buffer budget before spill.
func (b *Builder) SetMaxWriteBuffers(n int) *Builder { b.config.maxWriteBuffers = n; return b }

// SetWriteSpinCount bounds successful writes per drain invocation.
func (b *Builder) SetWriteSpinCount(n int) *Builder { b.config.writeSpinCount = n; return b }

// SetConnectTimeout sets the dial deadline.
func (b *Builder) SetConnectTimeout(d time.Duration) *Builder { b.config.connectTimeout = d; return b }

// SetReadTimeout sets the read idle bound.
func (b *Builder) SetReadTimeout(d time.Duration) *Builder { b.config.readTimeout = d; return b }

// SetWriteTimeout sets the write idle bound.
func (b *Builder) SetWriteTimeout(d time.Duration) *Builder { b.config.writeTimeout = d; return b }

// SetServerInitializer installs the accepted-connection initializer.
func (b *Builder) SetServerInitializer(init SessionInitializer) *Builder {
	b.config.serverInitializer = init
	return b
}

// SetClientInitializer installs the initiated-connection initializer.
func (b *Builder) SetClientInitializer(init SessionInitializer) *Builder {
	b.config.clientInitializer = init
	return b
}

// SetEventLoopListener installs the loop lifecycle listener.
func (b *Builder) SetEventLoopListener(listener EventLoopListener) *Builder {
	b.config.listener = listener
	return b
}

// SetClock overrides the loop time source, for deterministic tests.
func (b *Builder) SetClock(clock Clock) *Builder { b.config.clock = clock; return b }

// Build validates the options and constructs the pool and store. The
// Builder is reset so a retained reference cannot mutate the live Config.
func (b *Builder) Build() (*Config, error) {
	config := b.config

	if config.serverInitializer == nil && config.clientInitializer == nil {
		return nil, errors.New("no server or client session initializer")
	}
	if config.maxConns < 1 {
		return nil, fmt.Errorf("maxConns must be bigger than 0: %d", config.maxConns)
	}
	if config.maxServerConns <= 0 {
		config.maxServerConns = config.maxConns
	}
	if config.maxClientConns <= 0 {
		config.maxClientConns = config.maxConns
	}
	if config.maxReadBuffers < 1 {
		return nil, fmt.Errorf("maxReadBuffers must be bigger than 0: %d", config.maxReadBuffers)
	}
	if config.maxWriteBuffers < 1 {
		return nil, fmt.Errorf("maxWriteBuffers must be bigger than 0: %d", config.maxWriteBuffers)
	}
	if config.writeSpinCount < 1 {
		return nil, fmt.Errorf("writeSpinCount must be bigger than 0: %d", config.writeSpinCount)
	}
	if config.bufferSize < 1 || config.bufferSize&(config.bufferSize-1) != 0 {
		return nil, fmt.Errorf("bufferSize must be a power of two: %d", config.bufferSize)
	}
	if config.poolSize < int64(config.bufferSize) {
		return nil, fmt.Errorf("poolSize must hold at least one buffer: %d", config.poolSize)
	}
	if config.storeSize > maxStoreSize {
		return nil, fmt.Errorf("storeSize can't be bigger than %d: %d", maxStoreSize, config.storeSize)
	}
	if config.connectTimeout <= 0 || config.readTimeout <= 0 || config.writeTimeout <= 0 {
		return nil, errors.New("timeouts must be positive")
	}

	fstore, err := store.Open(config.name+"-store", config.storeSize, config.bufferSize)
	if err != nil {
		return nil, err
	}
	config.bufferStore = fstore
	if config.bufferDirect {
		config.bufferPool = buffer.NewSlabPool(config.poolSize, config.bufferSize)
	} else {
		config.bufferPool = buffer.NewHeapPool(config.poolSize, config.bufferSize)
	}
	if config.listener == nil {
		config.listener = NopListener{}
	}
	if config.clock == nil {
		config.clock = SystemClock
	}

	// detach the builder from the built config
	fresh := NewBuilder()
	fresh.config.serverInitializer = config.serverInitializer
	fresh.config.clientInitializer = config.clientInitializer
	fresh.config.listener = config.listener
	b.config = fresh.config

	return config, nil
}

// Boot builds the configuration and starts an event loop on it.
func (b *Builder) Boot() (*EventLoop, error) {
	config, err := b.Build()
	if err != nil {
		return nil, err
	}
	return NewEventLoop(config)
}
