package cmd

import (
	"fmt"
	"time"

	"github.com/dkeye/voicecall/internal/auth"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/spf13/cobra"
)

var (
	flagName string
	flagTTL  time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <uid>",
	Short: "Mint a development token signed with the relay secret",
	Long: `Mint a signaling token for uid, signed with the configured secret.

Examples:
  callctl token alice
  VOICECALL_SECRET=s3cret callctl token bob --ttl 1h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(flagConfig)
		if err != nil {
			return err
		}
		uid, err := domain.ParseUserID(args[0])
		if err != nil {
			return err
		}
		u, err := domain.NewUser(uid, flagName)
		if err != nil {
			return err
		}
		ttl := cfg.Auth.TokenTTL
		if flagTTL > 0 {
			ttl = flagTTL
		}
		tok, err := auth.NewIssuer(cfg.Secret, ttl).Issue(*u)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagName, "name", "", "display name")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
}
