package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/telekom/trustcore/pkg/api"
	"github.com/telekom/trustcore/pkg/policy"
)

func NewPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect layered capability policy",
	}
	cmd.AddCommand(newPolicyResolveCommand())
	return cmd
}

func newPolicyResolveCommand() *cobra.Command {
	var (
		capability string
		layerFiles []string
		noConfig   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the effective policy of the configured layers plus any extra layer files",
		Example: `  trustcore policy resolve
  trustcore policy resolve --layer agent.yaml --capability shell.exec -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			var layers []policy.Layer
			if !noConfig {
				cfg, err := rt.LoadConfig()
				if err != nil {
					return err
				}
				layers = append(layers, cfg.Policy.Layers...)
			}
			for _, path := range layerFiles {
				extra, err := readLayerFile(path)
				if err != nil {
					return err
				}
				layers = append(layers, extra...)
			}

			eff, err := policy.Resolve(layers...)
			if err != nil {
				return err
			}
			resp := api.EffectivePolicyResponse{Layers: make([]string, 0, len(layers)), Effective: eff}
			for _, l := range layers {
				resp.Layers = append(resp.Layers, l.Name)
			}
			if capability != "" {
				d := eff.Decide(capability)
				resp.Decision = &d
			}

			switch rt.OutputFormat() {
			case FormatTable:
				WritePolicyTable(rt.Writer(), eff, resp.Decision)
				return nil
			default:
				return WriteObject(rt.Writer(), rt.OutputFormat(), resp)
			}
		},
	}

	cmd.Flags().StringVar(&capability, "capability", "", "Evaluate this capability against the effective policy")
	cmd.Flags().StringArrayVar(&layerFiles, "layer", nil, "YAML file with extra layers appended after the configured ones (repeatable)")
	cmd.Flags().BoolVar(&noConfig, "no-config", false, "Ignore the layers from the config file")

	return cmd
}

// readLayerFile accepts either a list of layers or a single layer mapping.
func readLayerFile(path string) ([]policy.Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layer file: %w", err)
	}
	var layers []policy.Layer
	if err := yaml.Unmarshal(data, &layers); err == nil {
		return layers, nil
	}
	var single policy.Layer
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse layer file %s: %w", path, err)
	}
	return []policy.Layer{single}, nil
}
