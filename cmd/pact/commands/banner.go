package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/pact/am"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/sym"
	"github.com/teranos/pact/version"
)

// printStartupBanner prints what the pipeline is about to do
func printStartupBanner(cfg *am.Config, specs *contract.Specifications) {
	info := version.Get()

	lines := []string{
		fmt.Sprintf("Version:   %s (commit %s)", info.Version, info.Short()),
		fmt.Sprintf("Source:    %s", sourceLabel(cfg)),
		fmt.Sprintf("Store:     %s", storeLabel(cfg)),
		fmt.Sprintf("Specs:     %s (%d scenarios, %d contracts)",
			cfg.Certification.Specifications, specs.Len(), len(selectContracts(specs, ""))),
		fmt.Sprintf("Service:   %s", cfg.Certification.ServiceName),
		fmt.Sprintf("Workers:   %d", cfg.Certification.Workers),
	}
	if certifyServe {
		lines = append(lines, fmt.Sprintf("Serving:   http://localhost:%d", cfg.GetServerPort()))
	}
	if cfg.Telemetry.Enabled {
		lines = append(lines, fmt.Sprintf("Telemetry: %s", cfg.Telemetry.OTLPEndpoint))
	}

	pterm.DefaultBox.
		WithTitle(strings.Join(sym.Stages, " ") + "  pact").
		Println(strings.Join(lines, "\n"))
	pterm.Info.Println("Press Ctrl+C to stop")
}

func sourceLabel(cfg *am.Config) string {
	switch cfg.Certification.Source {
	case am.SourceOTLP:
		return "otlp grpc " + cfg.Receiver.Address
	case am.SourceFile:
		return "replay " + cfg.Certification.ReplayFile
	}
	return fmt.Sprintf("kafka %s (%s)", cfg.Kafka.Topic, strings.Join(cfg.Kafka.Brokers, ","))
}

func storeLabel(cfg *am.Config) string {
	switch cfg.Certification.Store {
	case am.StoreRedis:
		return "redis " + cfg.Redis.Addr
	case am.StoreMemory:
		return "memory"
	}
	return "sqlite " + cfg.GetDatabasePath()
}
