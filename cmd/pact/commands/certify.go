package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/certify"
	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/ingest"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/server"
	"github.com/teranos/pact/sym"
	"github.com/teranos/pact/telemetry"
	"github.com/teranos/pact/version"
)

// CertifyCmd runs the streaming certification pipeline
var CertifyCmd = &cobra.Command{
	Use:   "certify",
	Short: sym.Ingest + " Consume spans and write certificates",
	Long: sym.Ingest + ` certify: Run the certification pipeline

Spans are consumed from Kafka, received over OTLP/gRPC, or replayed from a
recording. Every trace is checked against the configured specifications and
its certificate is stored under <key_prefix>:<trace_id>.

Examples:
  pact certify                                  # source from certification.source
  pact certify --source otlp --serve            # receive spans, serve certificates
  pact certify --source kafka --record run.rec  # also record what was consumed
  pact certify --source file --replay run.rec --store memory`,
	RunE: runCertify,
}

var (
	certifySource string
	certifyStore  string
	certifySpec   string
	certifyReplay string
	certifyRecord string
	certifyDelay  time.Duration
	certifyServe  bool
)

func init() {
	CertifyCmd.Flags().StringVar(&certifySource, "source", "", "Span source: kafka, otlp, file (overrides certification.source)")
	CertifyCmd.Flags().StringVar(&certifyStore, "store", "", "Certificate store: sqlite, redis, memory (overrides certification.store)")
	CertifyCmd.Flags().StringVar(&certifySpec, "spec", "", "Specifications file (overrides certification.specifications)")
	CertifyCmd.Flags().StringVar(&certifyReplay, "replay", "", "Recording to replay with --source file")
	CertifyCmd.Flags().StringVar(&certifyRecord, "record", "", "Record consumed messages to this file")
	CertifyCmd.Flags().DurationVar(&certifyDelay, "replay-delay", 0, "Pause between replayed messages")
	CertifyCmd.Flags().BoolVar(&certifyServe, "serve", false, "Also serve certificates and the live feed on server.port")
}

// applyCertifyFlags layers command line overrides onto cfg.
func applyCertifyFlags(cfg *am.Config) {
	if certifySource != "" {
		cfg.Certification.Source = certifySource
	}
	if certifyStore != "" {
		cfg.Certification.Store = certifyStore
	}
	if certifySpec != "" {
		cfg.Certification.Specifications = certifySpec
	}
	if certifyReplay != "" {
		cfg.Certification.ReplayFile = certifyReplay
	}
}

func runCertify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	applyCertifyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	log := logger.Logger

	if cfg.Certification.Specifications == "" {
		return errors.WithHint(errors.NewConfigurationError("no specifications file"),
			"pass --spec or set certification.specifications")
	}
	specs, err := contract.Load(cfg.Certification.Specifications)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version.Get().Version, log)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warnw("telemetry flush failed", logger.FieldError, err)
		}
	}()
	metrics, err := certify.NewMetrics(telemetry.Meter("github.com/teranos/pact/certify"))
	if err != nil {
		return err
	}

	store, err := certstore.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	checker, err := newChecker(cfg, log)
	if err != nil {
		return err
	}

	src, err := openSource(cfg, log)
	if err != nil {
		return err
	}
	defer src.Close()
	if certifyRecord != "" {
		rec, err := ingest.NewRecorder(certifyRecord)
		if err != nil {
			return err
		}
		defer rec.Close()
		src = ingest.Tee(src, rec, cfg.Kafka.Topic, log)
	}

	opts := certify.Options{
		ServiceName: cfg.Certification.ServiceName,
		TTL:         cfg.CertificateTTL(),
		Metrics:     metrics,
	}

	serveDone := make(chan error, 1)
	if certifyServe {
		srv := server.New(cfg, store, log)
		opts.Publisher = srv
		go func() { serveDone <- srv.ListenAndServe(ctx, cfg.GetServerPort()) }()
	} else {
		close(serveDone)
	}

	printStartupBanner(cfg, specs)

	certifier := certify.NewCertifier(specs, checker, store, opts, log)
	pipeline := certify.NewPipeline(src, certifier, certify.PipelineConfig{
		Workers:   cfg.Certification.Workers,
		QueueSize: cfg.Certification.QueueSize,
		Metrics:   metrics,
	}, log)

	runErr := pipeline.Run(ctx)
	stop()
	if err := <-serveDone; err != nil {
		runErr = errors.CombineErrors(runErr, err)
	}

	processed, failed := pipeline.Stats()
	if failed > 0 {
		pterm.Warning.Printfln("%d messages processed, %d failed", processed, failed)
	} else {
		pterm.Success.Printfln("%d messages processed", processed)
	}
	return runErr
}

// openSource builds the span source selected by certification.source.
func openSource(cfg *am.Config, log *zap.SugaredLogger) (ingest.Source, error) {
	switch cfg.Certification.Source {
	case am.SourceKafka, "":
		return ingest.NewKafkaSource(cfg.Kafka, log)
	case am.SourceOTLP:
		return ingest.NewOTLPReceiver(cfg.Receiver.Address, log), nil
	case am.SourceFile:
		return ingest.NewFileSource(cfg.Certification.ReplayFile, certifyDelay, log), nil
	}
	return nil, errors.WithHint(
		errors.NewConfigurationError("unknown span source %q", cfg.Certification.Source),
		"set certification.source to kafka, otlp or file")
}
