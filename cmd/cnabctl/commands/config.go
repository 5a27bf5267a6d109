package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/cnabflow/ingestor/internal/config"
)

var configSchemaOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the cnabflow configuration",
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate a JSON Schema for the configuration file",
	Long: `Generate a JSON Schema for cnabflow's configuration file.

The schema can be used for:
  - IDE autocompletion (VS Code, IntelliJ, etc.)
  - Configuration file validation
  - Documentation generation

Examples:
  # Print schema to stdout
  cnabctl config schema

  # Save schema to file
  cnabctl config schema --output config.schema.json`,
	RunE: runConfigSchema,
}

func init() {
	configSchemaCmd.Flags().StringVarP(&configSchemaOutput, "output", "o", "", "Output file (default: stdout)")
	configCmd.AddCommand(configSchemaCmd)
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "cnabflow Configuration"
	schema.Description = "Configuration schema for the cnabflow ingestion pipeline"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if configSchemaOutput != "" {
		if err := os.WriteFile(configSchemaOutput, schemaJSON, 0o644); err != nil {
			return fmt.Errorf("failed to write schema file: %w", err)
		}
		fmt.Printf("JSON schema written to %s\n", configSchemaOutput)
		return nil
	}

	fmt.Println(string(schemaJSON))
	return nil
}
