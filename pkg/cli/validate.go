package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shamd/shamd/pkg/config"
	"github.com/shamd/shamd/pkg/imposter"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate imposter definition files without serving them",
	Long: `Validate compiles every imposter in the given files, reporting
definition errors such as malformed predicates, invalid regular
expressions, and bad jsonpath or xpath selectors.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed bool
		for _, path := range args {
			defs, err := config.LoadImposters(path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed = true
				continue
			}
			fileOK := true
			for i := range defs {
				if _, err := imposter.Compile(&defs[i]); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: imposter on port %d: %v\n", path, defs[i].Port, err)
					fileOK = false
					failed = true
				}
			}
			if fileOK {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d imposter(s) OK\n", path, len(defs))
			}
		}
		if failed {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}
