// Command sqs-ingestor drains one SQS queue into a downstream sink,
// configured entirely from the environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/baldanca/sqs-ingestor/codec"
	"github.com/baldanca/sqs-ingestor/event"
	"github.com/baldanca/sqs-ingestor/poller"
	"github.com/baldanca/sqs-ingestor/sink"
	"github.com/baldanca/sqs-ingestor/source"
)

type config struct {
	QueueName      string `env:"QUEUE_NAME"`
	QueueURL       string `env:"QUEUE_URL"`
	OwnerAccountID string `env:"QUEUE_OWNER_ACCOUNT_ID"`

	IDField            string `env:"ID_FIELD"`
	ChecksumField      string `env:"CHECKSUM_FIELD"`
	SentTimestampField string `env:"SENT_TIMESTAMP_FIELD"`

	WaitTimeSeconds int32  `env:"WAIT_TIME_SECONDS" envDefault:"20"`
	MaxMessages     int32  `env:"MAX_MESSAGES" envDefault:"10"`
	Codec           string `env:"CODEC" envDefault:"json"`

	Sink        string `env:"SINK" envDefault:"stdout"` // stdout or s3
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" envDefault:"sqs-ingestor"`
	Compression string `env:"S3_COMPRESSION" envDefault:"snappy"`

	Type        string `env:"EVENT_TYPE"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if cfg.QueueName == "" && cfg.QueueURL == "" {
		return errors.New("QUEUE_NAME or QUEUE_URL is required")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	src, err := source.NewSQS(ctx, sqs.NewFromConfig(awsCfg), source.SQSConfig{
		QueueName:      cfg.QueueName,
		QueueURL:       cfg.QueueURL,
		OwnerAccountID: cfg.OwnerAccountID,
	}, logger)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	c, err := codec.New(cfg.Codec)
	if err != nil {
		return err
	}

	var (
		out     sink.Sink
		archive *sink.S3ArchiveSink
	)
	switch cfg.Sink {
	case "stdout":
		out = sink.NewWriterSink(os.Stdout)
	case "s3":
		archive, err = sink.NewS3ArchiveSink(s3.NewFromConfig(awsCfg), sink.S3ArchiveConfig{
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			Compression:   cfg.Compression,
			IDField:       cfg.IDField,
			ChecksumField: cfg.ChecksumField,
		}, logger)
		if err != nil {
			return fmt.Errorf("build s3 sink: %w", err)
		}
		out = archive
	default:
		return fmt.Errorf("unknown sink %q", cfg.Sink)
	}

	metrics := poller.NewMetrics()
	go serveMetrics(cfg.MetricsAddr, metrics, logger)

	p, err := poller.New(poller.Config{
		IDField:            cfg.IDField,
		ChecksumField:      cfg.ChecksumField,
		SentTimestampField: cfg.SentTimestampField,
		WaitTimeSeconds:    cfg.WaitTimeSeconds,
		MaxMessages:        cfg.MaxMessages,
	}, src, c, out)
	if err != nil {
		return err
	}
	p.SetLogger(logger.With(zap.String("queue", src.QueueURL())))
	p.SetMetrics(metrics)
	if cfg.Type != "" {
		p.SetDecorator(event.Fields{"type": cfg.Type})
	}

	logger.Info("starting ingestor",
		zap.String("queue", src.QueueURL()),
		zap.String("codec", c.Name()),
		zap.String("sink", cfg.Sink))

	runErr := p.Run(ctx)

	if archive != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := archive.Close(flushCtx); err != nil {
			logger.Error("failed to flush archive sink", zap.Error(err))
		}
	}

	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func serveMetrics(addr string, metrics *poller.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
