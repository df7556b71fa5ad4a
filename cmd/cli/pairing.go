package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anstrom/netstick/internal/transport"
)

const minPairingKeyLength = 4

// pairingHashCmd prints the bcrypt hash to store as transport.pairing_key_hash.
var pairingHashCmd = &cobra.Command{
	Use:   "pairing-hash [key]",
	Short: "Hash a pairing key for the configuration file",
	Long: `Hash a pairing key with bcrypt. Store the output as
transport.pairing_key_hash; peers must then present the key in the
X-Pairing-Key header or the "key" query parameter.`,
	Example: `  netstick pairing-hash 246810`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args[0]) < minPairingKeyLength {
			return fmt.Errorf("pairing key must be at least %d characters", minPairingKeyLength)
		}
		hash, err := transport.HashPairingKey(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash pairing key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "netstick %s\n", getVersion())
	},
}

func init() {
	rootCmd.AddCommand(pairingHashCmd)
	rootCmd.AddCommand(versionCmd)
}
