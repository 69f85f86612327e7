package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pact/display"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
)

// PathCmd prints the execution path rebuilt from a trace
var PathCmd = &cobra.Command{
	Use:   "path",
	Short: sym.Path + " Show the execution path of a trace",
	Long: sym.Path + ` path: Rebuild and print the execution path of a trace

Formats:
  text     ExecutionPath[a --(tool)--> b ----> __end__]
  compact  states with their (truncated) info, as the judge sees them
  mermaid  a mermaid state diagram
  json     the full path, as written by --save

Examples:
  pact path --trace run.json
  pact path --jaeger 0af7651916cd43dd8448eb211c80319c --format mermaid
  pact path --trace batch.json --trace-id 0af76519... --save run.path.json`,
	RunE: runPath,
}

var (
	pathIn     pathInput
	pathFormat string
	pathSave   string
)

func init() {
	pathIn.register(PathCmd)
	PathCmd.Flags().StringVar(&pathFormat, "format", "text", "Output format: text, compact, mermaid, json")
	PathCmd.Flags().StringVar(&pathSave, "save", "", "Also write the path as JSON to this file")
}

func runPath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	path, err := pathIn.load(cmd.Context(), cfg, logger.Logger.Named("path"))
	if err != nil {
		return err
	}

	out, err := renderPath(path, pathFormat, cfg.Verification.MaxInfoLength)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)

	if pathSave != "" {
		if err := path.Save(pathSave); err != nil {
			return err
		}
		pterm.Success.Printfln("Execution path of %s saved to %s", path.TraceID, pathSave)
	}
	return nil
}

func renderPath(path *execpath.ExecutionPath, format string, maxInfoLength int) (string, error) {
	switch format {
	case "text", "":
		return path.String(), nil
	case "compact":
		if maxInfoLength <= 0 {
			maxInfoLength = execpath.DefaultMaxInfoLength
		}
		return path.Compact(maxInfoLength, true), nil
	case "mermaid":
		return path.Mermaid(), nil
	case "json":
		data, err := display.MarshalJSON(path)
		if err != nil {
			return "", errors.Wrap(err, "encode execution path")
		}
		return string(data), nil
	}
	return "", errors.Newf("unsupported format: %s (supported: text, compact, mermaid, json)", format)
}
