package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/allenai/infinigram-api/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the admin token",
	Long: `Create admin tokens for the /admin endpoints.

Only the bcrypt hash is configured on the server (admin.tokenHash or
INFINIGRAM_ADMIN_TOKENHASH); the token itself is shown once.

Examples:
  infinigram token create
  infinigram token hash igram_sk_...`,
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new admin token and its hash",
	RunE:  runTokenCreate,
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash <token>",
	Short: "Print the bcrypt hash of an existing token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenHash,
}

func init() {
	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Admin token created. Store it now; it cannot be shown again.")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Token: %s\n", token)
	fmt.Fprintf(out, "  Hash:  %s\n", hash)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Set admin.tokenHash (or INFINIGRAM_ADMIN_TOKENHASH) to the hash.")
	return nil
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	if !auth.IsValidTokenFormat(args[0]) {
		return fmt.Errorf("token %s does not look like an admin token", auth.MaskToken(args[0]))
	}
	hash, err := auth.HashToken(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
