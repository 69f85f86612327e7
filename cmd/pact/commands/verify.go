package commands

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pact/certify"
	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/display"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
	"github.com/teranos/pact/verify"
)

// VerifyCmd checks one trace against a specification without storing anything
var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: sym.Judge + " Check a trace against a specification",
	Long: sym.Judge + ` verify: Check one trace against the contracts of a specification

The trace comes from a span batch file, a saved execution path, or Jaeger.
Every contract is gated on its MUST preconditions exactly as the
certification pipeline does; gated-out contracts are listed as inactive.

Examples:
  pact verify --spec spec.yaml --trace run.json
  pact verify --spec spec.yaml --jaeger 0af7651916cd43dd8448eb211c80319c
  pact verify --spec spec.yaml --path run.path.json --contract con-billing1 --json`,
	RunE: runVerify,
}

var (
	verifyInput    pathInput
	verifySpec     string
	verifyContract string
	verifyJSON     bool
)

func init() {
	verifyInput.register(VerifyCmd)
	VerifyCmd.Flags().StringVar(&verifySpec, "spec", "", "Specifications file (defaults to certification.specifications)")
	VerifyCmd.Flags().StringVar(&verifyContract, "contract", "", "Only report this contract")
	VerifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the certificate as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	log := logger.Logger.Named("verify")

	specPath := verifySpec
	if specPath == "" {
		specPath = cfg.Certification.Specifications
	}
	if specPath == "" {
		return errors.WithHint(errors.NewConfigurationError("no specifications file"),
			"pass --spec or set certification.specifications")
	}
	specs, err := contract.Load(specPath)
	if err != nil {
		return err
	}
	if verifyContract != "" {
		if _, err := specs.Contract(verifyContract); err != nil {
			return err
		}
	}

	path, err := verifyInput.load(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	checker, err := newChecker(cfg, log)
	if err != nil {
		return err
	}
	certifier := certify.NewCertifier(specs, checker, certstore.NewMemoryStore(""), certify.Options{}, log)
	cert := certifier.Evaluate(cmd.Context(), path)

	contracts := selectContracts(specs, verifyContract)
	if display.ShouldOutputJSON(cmd) {
		out := certify.Certificate{}
		for _, c := range contracts {
			if r, ok := cert[c.UUID]; ok {
				out[c.UUID] = r
			}
		}
		return display.OutputJSON(cmd.OutOrStdout(), out)
	}

	pterm.DefaultSection.Printfln("%s trace %s", sym.Path, path.TraceID)
	if err := renderCertificate(cmd.OutOrStdout(), contracts, cert); err != nil {
		return err
	}
	printSummary(contracts, cert)
	return nil
}

// selectContracts returns the unique contracts of specs in document order,
// or only the one named.
func selectContracts(specs *contract.Specifications, only string) []*contract.Contract {
	var out []*contract.Contract
	seen := make(map[string]bool)
	for _, c := range specs.Contracts() {
		if seen[c.UUID] || (only != "" && c.UUID != only) {
			continue
		}
		seen[c.UUID] = true
		out = append(out, c)
	}
	return out
}

const inactive = "INACTIVE"

// certificateRows lays out one row per requirement. Contracts missing from
// cert did not pass their gate.
func certificateRows(contracts []*contract.Contract, cert certify.Certificate) [][]string {
	rows := [][]string{{"Contract", "Status", "Requirement", "Kind", "Level", "Result", "Explanation"}}
	for _, c := range contracts {
		res, active := cert[c.UUID]
		status := inactive
		if active {
			status = string(res.Status)
		}
		label := c.UUID
		if c.Name != "" {
			label = c.Name + " (" + c.UUID + ")"
		}
		for i, req := range c.Requirements {
			first := label
			st := status
			if i > 0 {
				first, st = "", ""
			}
			result, explanation := "-", ""
			if r, ok := res.Requirements[req.UUID]; ok {
				result = verdictOf(r)
				explanation = truncate(r.Explanation, 60)
			}
			rows = append(rows, []string{first, st, req.Name, string(req.Kind), string(req.Level), result, explanation})
		}
	}
	return rows
}

func verdictOf(r verify.Result) string {
	if r.Satisfied {
		return sym.Verdict + " satisfied"
	}
	return "✗ unsatisfied"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func renderCertificate(w io.Writer, contracts []*contract.Contract, cert certify.Certificate) error {
	return pterm.DefaultTable.
		WithHasHeader().
		WithWriter(w).
		WithData(certificateRows(contracts, cert)).
		Render()
}

func printSummary(contracts []*contract.Contract, cert certify.Certificate) {
	selected := certify.Certificate{}
	inactiveCount := 0
	for _, c := range contracts {
		if r, ok := cert[c.UUID]; ok {
			selected[c.UUID] = r
		} else {
			inactiveCount++
		}
	}
	counts := selected.Counts()
	msg := fmt.Sprintf("%d satisfied, %d unsatisfied, %d inactive",
		counts[verify.StatusSatisfied], counts[verify.StatusUnsatisfied], inactiveCount)
	if counts[verify.StatusUnsatisfied] > 0 {
		pterm.Warning.Println(msg)
		return
	}
	pterm.Success.Println(msg)
}
