package display

import (
	"os"

	"github.com/spf13/cobra"
)

// OutputEnv selects JSON output for every command when set to "json".
const OutputEnv = "PACT_OUTPUT"

// ShouldOutputJSON determines if a command should output JSON: an explicit
// --json flag wins, then PACT_OUTPUT.
func ShouldOutputJSON(cmd *cobra.Command) bool {
	if cmd != nil && cmd.Flags().Changed("json") {
		jsonFlag, _ := cmd.Flags().GetBool("json")
		return jsonFlag
	}
	return os.Getenv(OutputEnv) == "json"
}
