package commands

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/pact/ai/provider"
	"github.com/teranos/pact/am"
	"github.com/teranos/pact/certify"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/integrations/jaeger"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/trace"
	"github.com/teranos/pact/verify"
)

// loadConfig reads the configuration cascade, or only --config when given.
func loadConfig(cmd *cobra.Command, validate bool) (*am.Config, error) {
	var cfg *am.Config
	var err error
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, errors.Wrap(err, "configuration validation failed")
		}
	}
	return cfg, nil
}

// newChecker builds the requirement checker. Without judge credentials
// only deterministic requirements can be decided; the rest fail with a
// configuration error in their result.
func newChecker(cfg *am.Config, log *zap.SugaredLogger) (*verify.Checker, error) {
	var judge verify.Judge
	client, err := provider.NewJudgeClient(cfg.Judge, log)
	switch {
	case err == nil:
		judge = client
	case errors.Is(err, errors.ErrConfiguration):
		log.Warnw("judge not configured, only deterministic requirements will be decided",
			"provider", cfg.Judge.Provider,
			logger.FieldError, err)
	default:
		return nil, err
	}
	eval := verify.NewEvaluator(judge, verify.OptionsFromConfig(cfg.Verification), log)
	return verify.NewChecker(eval, cfg.Verification.Concurrency, log), nil
}

// pathInput selects where an execution path comes from.
type pathInput struct {
	traceFile string // span batch: OTLP JSON or protobuf
	pathFile  string // path written by 'pact path --save'
	jaegerID  string
	traceID   string // picks one trace out of a multi-trace batch
	service   string // tracer service filter; "" keeps all spans
}

func (in *pathInput) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&in.traceFile, "trace", "", "Span batch file (OTLP JSON or protobuf)")
	cmd.Flags().StringVar(&in.pathFile, "path", "", "Execution path JSON written by 'pact path --save'")
	cmd.Flags().StringVar(&in.jaegerID, "jaeger", "", "Fetch this trace id from Jaeger")
	cmd.Flags().StringVar(&in.traceID, "trace-id", "", "Trace to use when the batch holds several")
	cmd.Flags().StringVar(&in.service, "service", "", "Keep only spans of this tracer service")
}

func (in *pathInput) validate() error {
	set := 0
	for _, v := range []string{in.traceFile, in.pathFile, in.jaegerID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return errors.WithHint(
			errors.NewConfigurationError("exactly one trace input is required"),
			"pass one of --trace, --path or --jaeger")
	}
	return nil
}

// load produces the execution path described by in.
func (in *pathInput) load(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*execpath.ExecutionPath, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	switch {
	case in.pathFile != "":
		return execpath.Load(in.pathFile)

	case in.jaegerID != "":
		service := in.service
		if service == "" {
			service = cfg.Certification.ServiceName
		}
		client, err := jaeger.New(cfg.Jaeger, service, log)
		if err != nil {
			return nil, err
		}
		tr, err := client.Trace(ctx, trace.NormalizeID(in.jaegerID))
		if err != nil {
			return nil, err
		}
		return execpath.FromTrace(tr)
	}

	data, err := os.ReadFile(in.traceFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read trace file %s", in.traceFile)
	}
	batch, _, err := certify.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", in.traceFile)
	}
	ts, err := selectTrace(certify.Preprocess(batch, in.service), in.traceID)
	if err != nil {
		return nil, err
	}
	tr, err := trace.Build(ts.TraceID, ts.Spans)
	if err != nil {
		return nil, err
	}
	return execpath.FromTrace(tr)
}

// selectTrace picks the requested trace, or the only one.
func selectTrace(groups []certify.TraceSpans, traceID string) (certify.TraceSpans, error) {
	if traceID != "" {
		want := trace.NormalizeID(traceID)
		for _, g := range groups {
			if g.TraceID == want {
				return g, nil
			}
		}
		return certify.TraceSpans{}, errors.NewNotFoundError("trace %s not in batch", traceID)
	}
	switch len(groups) {
	case 0:
		return certify.TraceSpans{}, errors.NewMalformedInputError("batch holds no spans for the selected service")
	case 1:
		return groups[0], nil
	}
	ids := make([]string, len(groups))
	for i, g := range groups {
		ids[i] = g.TraceID
	}
	return certify.TraceSpans{}, errors.WithHintf(
		errors.NewMalformedInputError("batch holds %d traces", len(groups)),
		"pick one with --trace-id: %s", strings.Join(ids, ", "))
}
