package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ozzus/sbe-monitor/internal/backend"
	"ozzus/sbe-monitor/internal/checks"
	"ozzus/sbe-monitor/internal/config"
	"ozzus/sbe-monitor/internal/lib/logger/sl"
	"ozzus/sbe-monitor/internal/repository"
	"ozzus/sbe-monitor/internal/repository/kafka"
	"ozzus/sbe-monitor/internal/service"
	"ozzus/sbe-monitor/internal/store"
)

type deps struct {
	tasks   repository.TaskRepository
	results repository.ResultRepository
	jobs    store.JobStore
	closers []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			log.Warn("close failed", sl.Err(err))
		}
	}
}

func buildDeps(ctx context.Context, log *slog.Logger, cfg *config.Config) (*deps, error) {
	d := &deps{}

	client, err := backend.NewClient(cfg.Source.URL, backend.Options{
		AgentName:          cfg.Agent.Name,
		Token:              cfg.Source.Token,
		Timeout:            cfg.GetSourceTimeout(),
		InsecureSkipVerify: cfg.Source.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend client: %w", err)
	}

	d.tasks = repository.NewHTTPTaskRepository(client)
	httpResults := repository.NewHTTPResultRepository(log, client)
	d.results = httpResults

	if cfg.Kafka.Enabled {
		log.Info("initializing Kafka components", slog.Any("brokers", cfg.Kafka.Brokers))

		resultsProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Results)
		logsProducer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.Logs)
		d.closers = append(d.closers, resultsProducer.Close, logsProducer.Close)

		mirror := repository.NewKafkaResultRepository(log, resultsProducer, logsProducer)
		d.results = repository.NewMultiResultRepository(log, httpResults, mirror)

		if cfg.Source.Kind == config.SourceKafka {
			consumer := kafka.NewConsumer(log, cfg.Kafka.Brokers, cfg.Kafka.Topics.Jobs, cfg.Kafka.Group)
			d.closers = append(d.closers, consumer.Close)

			if err := consumer.CheckConnection(ctx); err != nil {
				log.Warn("kafka is not reachable yet", sl.Err(err))
			}

			d.tasks = repository.NewKafkaTaskRepository(log, consumer, cfg.GetSourceTimeout())
		}
	}

	switch cfg.Store.Driver {
	case config.StoreRedis:
		rdb, err := store.NewRedisUniversalClient(cfg.Store.Redis.Addr)
		if err != nil {
			d.Close()
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, errors.Join(fmt.Errorf("redis is not reachable: %w", err), rdb.Close())
		}
		d.jobs = store.NewRedisStore(rdb, cfg.Store.Redis.Key)
	case config.StoreEtcd:
		cli, err := store.NewEtcdClient(cfg.Store.Etcd.Endpoints, cfg.GetEtcdDialTimeout())
		if err != nil {
			d.Close()
			return nil, err
		}
		d.jobs = store.NewEtcdStore(cli, cfg.Store.Etcd.Prefix)
	default:
		d.jobs = store.NewMemoryStore()
	}

	return d, nil
}

func buildPipeline(log *slog.Logger, cfg *config.Config, results repository.ResultRepository) *service.Pipeline {
	var runner checks.PingRunner = checks.ExecPingRunner{Binary: cfg.Checks.PingBinary}
	if cfg.Checks.PingMode == config.PingModeNative {
		runner = checks.NativePingRunner{Privileged: cfg.Checks.PingPrivileged}
	}

	return service.NewPipeline(
		log,
		checks.NewDNSChecker(log, cfg.GetDNSTimeout()),
		checks.NewPingChecker(log, runner, cfg.GetPingTimeout(), cfg.Checks.PingCount),
		checks.NewDispatcher(
			log,
			checks.NewHTTPChecker(log, cfg.GetHTTPTimeout(), cfg.Checks.HTTPMaxBody),
			checks.UnknownProtocolPolicy(cfg.Pipeline.UnknownProtocol),
		),
		results,
		service.PipelineConfig{
			AgentID:      cfg.Agent.Name,
			StageTimeout: cfg.GetStageTimeout(),
		},
	)
}
