package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-intake/internal/diagnose"
	"github.com/sells-group/lead-intake/internal/model"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check GoHighLevel credentials against the live API",
	Long:  "Probes the locations and contacts endpoints on the primary and fallback hosts and prints the classified result. Exits non-zero when no probe succeeds.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "json" && format != "yaml" {
			return eris.Errorf("diagnose: unsupported format %q (json, yaml)", format)
		}

		prober := diagnose.NewProber(newGHLClient(), cfg.GHL.APIKey, cfg.GHL.LocationID)
		d, err := prober.Diagnose(cmd.Context())
		if err != nil {
			return err
		}

		if err := writeDiagnosis(os.Stdout, d, format); err != nil {
			return err
		}
		if !d.OK {
			return eris.Errorf("diagnose: %s", d.Code)
		}
		return nil
	},
}

// writeDiagnosis prints d as indented JSON or as YAML.
func writeDiagnosis(out io.Writer, d *model.Diagnosis, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return eris.Wrap(err, "diagnose: encode yaml")
		}
		return enc.Close()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return eris.Wrap(err, "diagnose: encode json")
	}
	return nil
}

func init() {
	diagnoseCmd.Flags().String("format", "json", "output format (json, yaml)")
	rootCmd.AddCommand(diagnoseCmd)
}
