// Command brokerd wires up a Router with defaults suitable for local
// experimentation and drives its event loop until interrupted.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimbusmq/broker/internal/broker"
)

func main() {
	var (
		maxConnections = flag.Int("max-connections", 10000, "maximum concurrent connections")
		maxSegmentSize = flag.Uint64("max-segment-size", 64<<20, "publishes per commit log segment")
		codecName      = flag.String("codec", "none", "payload codec: none, snappy, lz4, zstd")
		initFilters    = flag.String("init-filters", "", "comma-separated filters to pre-create")
	)
	flag.Parse()

	logger := broker.BasicLogger(os.Stderr, broker.LevelInfo)

	codec, err := parseCodec(*codecName)
	if err != nil {
		log.Fatalf("brokerd: %v", err)
	}

	opts := []broker.Opt{
		broker.WithMaxConnections(*maxConnections),
		broker.WithMaxSegmentSize(*maxSegmentSize),
		broker.WithCodec(codec),
		broker.WithLogger(logger),
	}
	if *initFilters != "" {
		opts = append(opts, broker.WithInitializedFilters(strings.Split(*initFilters, ",")...))
	}

	cfg := broker.NewConfig(opts...)
	router := broker.NewRouter(cfg)

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	logger.Log(broker.LevelInfo, "brokerd starting", "max_connections", *maxConnections, "codec", *codecName)
	router.Run(stop)
	logger.Log(broker.LevelInfo, "brokerd stopped")
}

func parseCodec(name string) (broker.Codec, error) {
	switch name {
	case "", "none":
		return broker.CodecNone{}, nil
	case "snappy":
		return broker.CodecSnappy{}, nil
	case "lz4":
		return broker.CodecLZ4{}, nil
	case "zstd":
		return broker.CodecZstd{}, nil
	default:
		return nil, errUnknownCodec(name)
	}
}

type errUnknownCodec string

func (e errUnknownCodec) Error() string { return "unknown codec: " + string(e) }
