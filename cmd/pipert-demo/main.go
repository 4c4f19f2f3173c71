// Command pipert-demo runs a small sensor pipeline on top of the runtime.
//
// Producers push readings into an ingest channel. Its callback fans each
// reading out to a statistics channel and to a render channel bound to
// a single worker thread.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/FerroO2000/pipert"
	"golang.org/x/sync/errgroup"
)

type reading struct {
	sensor int
	seq    int
	value  float64
}

type stats struct {
	mux sync.Mutex

	count   int
	sum     float64
	lastSeq map[int]int

	outOfOrder int
}

func (s *stats) add(r reading) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if last, ok := s.lastSeq[r.sensor]; ok && r.seq != last+1 {
		s.outOfOrder++
	}
	s.lastSeq[r.sensor] = r.seq

	s.count++
	s.sum += r.value
}

func main() {
	cfgPath := flag.String("config", "", "path of the YAML configuration")
	flag.Parse()

	cfg, err := loadDemoConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatal(err)
	}
	pipert.SetLogLevel(level)

	ctx, cancelCtx := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancelCtx()

	if cfg.Telemetry.Enabled {
		tel, err := initTelemetry(ctx, &cfg.Telemetry, "pipert-demo")
		if err != nil {
			log.Fatal(err)
		}

		defer func() {
			if err := tel.close(context.Background()); err != nil {
				log.Print(err)
			}
		}()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *demoConfig) error {
	schedCfg := pipert.NewSchedulerConfig()
	schedCfg.Name = "demo"
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	// The ingest callback blocks while the downstream channels are full
	schedCfg.Workers = max(workers, 2)
	schedCfg.ErrorHandler = func(channel string, err error) {
		slog.Warn("callback failed", "channel", channel, "error", err)
	}

	s := pipert.NewSchedulerWithConfig(schedCfg)

	st := &stats{lastSeq: make(map[int]int)}
	renderThreads := sync.Map{}

	var rendered atomic.Int64

	statsCh := pipert.CreateChannel(s, "stats", cfg.ChannelCapacity, 0, pipert.NoAffinity,
		func(_ context.Context, stub *pipert.Stub[reading]) error {
			st.add(stub.Value())
			return nil
		},
	)

	renderCh := pipert.CreateChannel(s, "render", cfg.ChannelCapacity, 0, pipert.NewAffinity("render-context"),
		func(ctx context.Context, _ *pipert.Stub[reading]) error {
			if info, ok := pipert.WorkerFromContext(ctx); ok {
				renderThreads.Store(info.ThreadID, info.ID)
			}

			rendered.Add(1)
			return nil
		},
	)

	ingestCfg := pipert.NewChannelConfig("ingest")
	ingestCfg.Capacity = cfg.ChannelCapacity
	if cfg.RejectWhenFull {
		ingestCfg.Backpressure = pipert.BackpressureReject
	}

	ingestCh := pipert.CreateChannelWithConfig(s, ingestCfg,
		func(ctx context.Context, stub *pipert.Stub[reading]) error {
			if cfg.ProcessingDelay > 0 {
				time.Sleep(cfg.ProcessingDelay)
			}

			// The stub keeps its own handle until the callback returns
			return pipert.FanOut(ctx, stub.GetPacket().Clone(), statsCh, renderCh)
		},
	)

	// Fed by the heartbeat ticker only
	heartbeatChCfg := pipert.NewChannelConfig("heartbeat")
	heartbeatChCfg.SingleProducer = true

	heartbeatCh := pipert.CreateChannelWithConfig(s, heartbeatChCfg,
		func(_ context.Context, stub *pipert.Stub[int]) error {
			slog.Debug("heartbeat", "tick", stub.Value(), "ingest_len", ingestCh.Len())
			return nil
		},
	)

	heartbeatCfg := pipert.NewTickerConfig("heartbeat")
	heartbeatCfg.Interval = cfg.HeartbeatInterval
	heartbeat := pipert.NewTicker(heartbeatCh, heartbeatCfg, func(tick int, _ pipert.Timestamp) int { return tick })

	s.Start()

	start := time.Now()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()

	heartbeatErr := make(chan error, 1)
	go func() { heartbeatErr <- heartbeat.Run(heartbeatCtx) }()

	grp, grpCtx := errgroup.WithContext(ctx)
	for sensor := range cfg.Producers {
		grp.Go(func() error {
			for seq := range cfg.PacketsPerProducer {
				pkt := pipert.NewPacket(reading{sensor: sensor, seq: seq, value: float64(seq) * 0.5})

				if err := ingestCh.Push(grpCtx, pkt); err != nil {
					pkt.Release()
					return err
				}
			}
			return nil
		})
	}

	pushErr := grp.Wait()

	// Let the workers drain the channels
	for ingestCh.Len()+statsCh.Len()+renderCh.Len() > 0 && ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}

	cancelHeartbeat()
	if err := <-heartbeatErr; err != nil {
		slog.Warn("heartbeat failed", "error", err)
	}

	s.Stop()

	threads := 0
	renderThreads.Range(func(_, _ any) bool {
		threads++
		return true
	})

	st.mux.Lock()
	slog.Info("demo completed",
		"elapsed", time.Since(start),
		"workers", s.GetWorkerNumber(),
		"processed", st.count,
		"out_of_order", st.outOfOrder,
		"rendered", rendered.Load(),
		"render_threads", threads,
		"heartbeats", heartbeat.Triggered(),
	)
	st.mux.Unlock()

	return pushErr
}
