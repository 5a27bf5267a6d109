package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cnabflow/ingestor/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample cnabflow configuration file.

By default the file is created at $XDG_CONFIG_HOME/cnabflow/config.yaml.
Use --config to specify a custom path.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = defaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to point at your database, object store, and redis")
	fmt.Println("  2. Apply the database schema: cnabctl migrate")
	fmt.Printf("  3. Start the service: cnabctl start --config %s\n", path)
	return nil
}
