package docuquery

import (
	"fmt"

	"github.com/spf13/cobra"

	"docuquery/pkg/config"
	"docuquery/pkg/log"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "docuquery",
	Short: "DocuQuery - document question answering service",
	Long: `DocuQuery answers natural-language questions against a document
supplied by URL or upload, grounding every answer in the document's
text under a fixed per-request deadline.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.SetDebug(verbose)
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// SetVersion sets the version for the CLI.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("DocuQuery version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./docuquery.toml or ~/.docuquery/docuquery.toml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
}
