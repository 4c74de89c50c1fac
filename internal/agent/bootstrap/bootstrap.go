// Package bootstrap wires every collaborator package into a running
// agent and drives its startup/shutdown sequence, grounded on the
// teacher's own bootstrap.Run: register an OS signal handler, start
// the long-running servers in their own goroutines, then tear
// everything down once a signal or context cancellation arrives.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/sentryd/sentryd/internal/agent/config"
	"github.com/sentryd/sentryd/internal/agent/pipeline"
	"github.com/sentryd/sentryd/internal/consumer"
	"github.com/sentryd/sentryd/internal/fanout"
	"github.com/sentryd/sentryd/internal/fanout/amqpsink"
	"github.com/sentryd/sentryd/internal/fanout/redissink"
	"github.com/sentryd/sentryd/internal/fanout/rpc"
	"github.com/sentryd/sentryd/internal/health"
	"github.com/sentryd/sentryd/internal/kernel/producer"
	"github.com/sentryd/sentryd/internal/log"
	"github.com/sentryd/sentryd/internal/metrics"
	"github.com/sentryd/sentryd/internal/procstate"
	"github.com/sentryd/sentryd/internal/rules"
	"github.com/sentryd/sentryd/internal/safe"
	"github.com/sentryd/sentryd/internal/shutdown"
)

// Agent bundles every long-running collaborator the bootstrap layer
// starts and stops together.
type Agent struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown *shutdown.Manager

	prod      producer.Producer
	loop      *consumer.Loop
	store     *procstate.Store
	reaper    *procstate.Reaper
	engine    *rules.Engine
	eventBus  *fanout.Bus[fanout.EventView]
	alertBus  *fanout.Bus[fanout.AlertView]
	grpcSrv   *grpc.Server
	grpcAddr  string
	healthSrv *health.Server

	redisSink *redissink.Sink
	amqpSink  *amqpsink.Sink
}

type statsAdapter struct {
	store  *procstate.Store
	engine *rules.Engine
	loop   *consumer.Loop
	fanout *fanout.Health
}

func (a statsAdapter) Stats() health.Stats {
	live, reaped := a.store.Counts()
	anomalies := a.store.AnomalyCounts()
	var total uint64
	for _, n := range anomalies {
		total += n
	}
	total += a.engine.AnomalyCount()

	loopStats := a.loop.Stats()
	fanoutStats := a.fanout.Snapshot()

	return health.Stats{
		LiveProcesses:   live,
		ReapedProcesses: reaped,
		AnomalyCount:    total,

		EventsDelivered:  loopStats.Delivered,
		EventsOverrun:    loopStats.Overruns,
		EventsDropped:    loopStats.Dropped,
		LossySubscribers: fanoutStats.LossySubscribers,

		AlertsByRule: a.engine.AlertCounts(),
	}
}

// New builds every collaborator from cfg but starts nothing; call Run
// to start and block until shutdown.
func New(cfg config.Config) (*Agent, error) {
	logger := log.L()
	sd := shutdown.NewManager()

	prod, err := producer.New(producer.Config{
		RingSize:      cfg.RingSizeSlots,
		BPFObjectPath: os.Getenv("BPF_OBJECT_PATH"),
		SkipCapCheck:  cfg.SkipCapabilityCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("build producer: %w", err)
	}

	reg := metrics.NewRegistry()

	store := procstate.New(procstate.Config{ReapWindow: cfg.ReapWindow(), Metrics: reg}, nil)
	reaper, err := procstate.NewReaper(store, "")
	if err != nil {
		return nil, fmt.Errorf("build reaper: %w", err)
	}
	reaper.SetMetrics(reg)

	eventBus := fanout.NewBus[fanout.EventView]()
	alertBus := fanout.NewBus[fanout.AlertView]()
	eventBus.SetMetrics(reg)
	alertBus.SetMetrics(reg)
	fanoutHealth := &fanout.Health{Events: eventBus, Alerts: alertBus}

	engine := rules.New(rules.Config{
		Thresholds: cfg.RuleThresholds,
		Cooldowns:  cfg.CooldownDuration(),
		Metrics:    reg,
	}, fanout.NewAlertPublisher(alertBus), store)

	pl := pipeline.New(store, engine, fanout.NewEventPublisher(eventBus), logger)

	loop := consumer.New(prod.Source(), pl, consumer.Config{
		StartAtProducerCurrent: cfg.StartAt == config.StartAtProducerCurrent,
		Metrics:                reg,
	}, logger)

	rpc.RegisterCodec()
	grpcSrv := grpc.NewServer()
	rpc.RegisterServer(grpcSrv, fanout.NewGRPCServer(eventBus, alertBus, store, cfg.GRPC.SubBufSize))

	a := &Agent{
		cfg: cfg, logger: logger, shutdown: sd,
		prod: prod, loop: loop, store: store, reaper: reaper, engine: engine,
		eventBus: eventBus, alertBus: alertBus,
		grpcSrv: grpcSrv, grpcAddr: cfg.GRPC.ListenAddr,
	}

	a.healthSrv = health.New(cfg.Health.ListenAddr, sd, statsAdapter{store: store, engine: engine, loop: loop, fanout: fanoutHealth}, reg)

	if cfg.Redis.Enable {
		a.redisSink = redissink.New(&redissink.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, Channel: cfg.Redis.Channel,
		}, logger)
	}
	if cfg.AMQP.Enable {
		sink, err := amqpsink.New(&amqpsink.Config{
			URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange, RoutingKey: cfg.AMQP.RoutingKey,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("build amqp sink: %w", err)
		}
		a.amqpSink = sink
	}

	return a, nil
}

// Run starts every collaborator and blocks until an OS signal (or the
// given context) requests shutdown, then tears everything down.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	safe.Go(func() {
		if err := a.prod.Run(ctx); err != nil {
			a.logger.Error("producer stopped", zap.Error(err))
			a.healthSrv.SetDegraded()
		}
	})

	safe.Go(func() { a.loop.Run(ctx) })
	safe.Go(func() { a.reaper.Run(ctx) })
	a.healthSrv.SetRunning()

	if a.redisSink != nil {
		sub, unsub := a.alertBus.Subscribe(256, fanout.DropNewest)
		safe.Go(func() { a.redisSink.Run(ctx, sub) })
		defer unsub()
	}
	if a.amqpSink != nil {
		sub, unsub := a.alertBus.Subscribe(256, fanout.DropNewest)
		safe.Go(func() { a.amqpSink.Run(ctx, sub) })
		defer unsub()
	}

	safe.Go(func() {
		a.logger.Info("health listener starting", zap.String("addr", a.cfg.Health.ListenAddr))
		if err := a.healthSrv.Run(ctx); err != nil {
			a.logger.Error("health server stopped", zap.Error(err))
		}
	})

	lis, err := newGRPCListener(a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	safe.Go(func() {
		a.logger.Info("grpc listener starting", zap.String("addr", a.grpcAddr))
		if err := a.grpcSrv.Serve(lis); err != nil {
			a.logger.Error("grpc server stopped", zap.Error(err))
		}
	})

	select {
	case sig := <-quit:
		a.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	a.shutdown.Shutdown()
	cancel()

	stopped := make(chan struct{})
	go func() {
		a.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(30 * time.Second):
		a.grpcSrv.Stop()
	}

	a.eventBus.CloseAll()
	a.alertBus.CloseAll()
	_ = a.prod.Close()
	if a.redisSink != nil {
		_ = a.redisSink.Close()
	}
	if a.amqpSink != nil {
		_ = a.amqpSink.Close()
	}

	a.logger.Info("sentryd shutdown complete")
	return nil
}

func newGRPCListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
