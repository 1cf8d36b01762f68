package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shamd/shamd/pkg/config"
)

var loadFlags struct {
	host string
	port int
}

var loadCmd = &cobra.Command{
	Use:   "load <file>...",
	Short: "Post imposter definition files to a running server",
	Example: `  # Load imposters into the local admin API
  shamd load imposters.json

  # Load into a remote server
  shamd load --host mocks.internal --port 2525 imposters.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 10 * time.Second}
		base := fmt.Sprintf("http://%s:%d", loadFlags.host, loadFlags.port)

		for _, path := range args {
			defs, err := config.LoadImposters(path)
			if err != nil {
				return err
			}
			for i := range defs {
				payload, err := json.Marshal(&defs[i])
				if err != nil {
					return err
				}
				resp, err := client.Post(base+"/imposters", "application/json", bytes.NewReader(payload))
				if err != nil {
					return fmt.Errorf("post imposter on port %d: %w", defs[i].Port, err)
				}
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				resp.Body.Close()
				if resp.StatusCode != http.StatusCreated {
					return fmt.Errorf("imposter on port %d rejected: %s: %s",
						defs[i].Port, resp.Status, bytes.TrimSpace(body))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created imposter on port %d\n", defs[i].Port)
			}
		}
		return nil
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadFlags.host, "host", "localhost", "admin API host")
	loadCmd.Flags().IntVar(&loadFlags.port, "port", 2525, "admin API port")
}
