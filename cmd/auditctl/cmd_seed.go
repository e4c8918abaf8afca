package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audit-agent/backend/internal/audit"
	"github.com/audit-agent/backend/internal/storage/models"
)

type seedFile struct {
	Audits  []models.Audit  `yaml:"audits"`
	Devices []models.Device `yaml:"devices"`
}

type seedStore interface {
	UpsertAudit(ctx context.Context, audit *models.Audit) error
	UpsertDevice(ctx context.Context, device *models.Device) error
}

func parseSeed(raw []byte) (*seedFile, error) {
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, a := range f.Audits {
		if a.ID <= 0 || a.Name == "" {
			return nil, fmt.Errorf("audit %d needs an audit_id and audit_name", i+1)
		}
	}
	for i, d := range f.Devices {
		if d.ID <= 0 || d.Name == "" || d.Category == "" {
			return nil, fmt.Errorf("device %d needs a device_id, device_name and category", i+1)
		}
	}
	return &f, nil
}

func applySeed(ctx context.Context, st seedStore, f *seedFile) error {
	for i := range f.Audits {
		if err := st.UpsertAudit(ctx, &f.Audits[i]); err != nil {
			return err
		}
	}
	for i := range f.Devices {
		if err := st.UpsertDevice(ctx, &f.Devices[i]); err != nil {
			return err
		}
	}
	return nil
}

// missingScripts lists audits whose command script cannot be loaded.
func missingScripts(scriptsDir string, audits []models.Audit) []string {
	var missing []string
	for _, a := range audits {
		if _, err := audit.LoadScript(audit.ScriptPath(scriptsDir, a)); err != nil {
			missing = append(missing, fmt.Sprintf("%d. %s: %v", a.ID, a.Name, err))
		}
	}
	return missing
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load audits and devices from a YAML file into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			f, err := parseSeed(raw)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			defer st.Close()

			if err := applySeed(cmd.Context(), st, f); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			fmt.Printf("Seeded %d audits and %d devices into %s\n", len(f.Audits), len(f.Devices), cfg.SQLite.Path)

			for _, m := range missingScripts(cfg.Execution.ScriptsDir, f.Audits) {
				fmt.Printf("warning: no runnable script for audit %s\n", m)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "data/seed.yaml", "seed file with audits and devices")
	return cmd
}
