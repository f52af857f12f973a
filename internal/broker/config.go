package broker

// Config is the broker's process-wide, immutable-after-startup
// configuration (spec §6.2, §9 "shared mutable configuration" design
// note). It is built with functional options, cloned once by NewRouter,
// and never hot-reloaded — mirroring the teacher's cl.cfg construction via
// kgo.Opt.
type Config struct {
	// InstantAck forces force_ack on every QoS 0 publish. Per spec §9 this
	// flag exists but is deliberately NOT consulted on the QoS 0 append
	// path; kept here only so callers can observe the documented
	// ambiguity in tests.
	InstantAck bool

	MaxSegmentSize  uint64
	MaxSegmentCount int
	MaxConnections  int
	MaxReadLen      uint64

	// InitializedFilters are pre-created at router construction.
	InitializedFilters []string

	// MaxScheduleIterations bounds how many DataRequests a single
	// consume() call drains from one tracker before yielding (spec §4.4,
	// §9 "configurable" note).
	MaxScheduleIterations int

	// MaxEventsPerDrain bounds the non-blocking event drain per run_inner
	// iteration (spec §4.4 step 2).
	MaxEventsPerDrain int

	// MaxReadyPerIteration bounds how many ready-queue entries run_inner
	// services per iteration (spec §4.4 step 3).
	MaxReadyPerIteration int

	// MaxChannelCapacity is the outgoing buffer high-water mark at which
	// forward_device_data reports BufferFull (spec §4.8).
	MaxChannelCapacity int

	// EventChannelCapacity is the router's inbound event channel capacity
	// (spec §5, §6.1).
	EventChannelCapacity int

	Codec Codec

	TenantAuth *TenantAuth

	Logger Logger
}

// Opt mutates a Config under construction.
type Opt func(*Config)

// NewConfig builds a Config with spec-mandated defaults, then applies
// opts in order.
func NewConfig(opts ...Opt) Config {
	cfg := Config{
		MaxSegmentSize:        64 << 20,
		MaxSegmentCount:       10,
		MaxConnections:        10000,
		MaxReadLen:            100,
		MaxScheduleIterations: 100,
		MaxEventsPerDrain:     500,
		MaxReadyPerIteration:  100,
		MaxChannelCapacity:    200,
		EventChannelCapacity:  1000,
		Codec:                 CodecNone{},
		Logger:                nopLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c Config) clone() Config {
	cp := c
	cp.InitializedFilters = append([]string(nil), c.InitializedFilters...)
	return cp
}

func WithInstantAck(v bool) Opt { return func(c *Config) { c.InstantAck = v } }

func WithMaxSegmentSize(n uint64) Opt { return func(c *Config) { c.MaxSegmentSize = n } }

func WithMaxSegmentCount(n int) Opt { return func(c *Config) { c.MaxSegmentCount = n } }

func WithMaxConnections(n int) Opt { return func(c *Config) { c.MaxConnections = n } }

func WithMaxReadLen(n uint64) Opt { return func(c *Config) { c.MaxReadLen = n } }

func WithInitializedFilters(filters ...string) Opt {
	return func(c *Config) { c.InitializedFilters = append(c.InitializedFilters, filters...) }
}

func WithMaxScheduleIterations(n int) Opt { return func(c *Config) { c.MaxScheduleIterations = n } }

func WithMaxEventsPerDrain(n int) Opt { return func(c *Config) { c.MaxEventsPerDrain = n } }

func WithMaxReadyPerIteration(n int) Opt { return func(c *Config) { c.MaxReadyPerIteration = n } }

func WithMaxChannelCapacity(n int) Opt { return func(c *Config) { c.MaxChannelCapacity = n } }

func WithEventChannelCapacity(n int) Opt { return func(c *Config) { c.EventChannelCapacity = n } }

func WithCodec(codec Codec) Opt { return func(c *Config) { c.Codec = codec } }

func WithTenantAuth(auth *TenantAuth) Opt { return func(c *Config) { c.TenantAuth = auth } }

func WithLogger(l Logger) Opt {
	return func(c *Config) {
		if l == nil {
			l = nopLogger{}
		}
		c.Logger = l
	}
}
