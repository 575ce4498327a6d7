package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/order-robot/internal/config"
)

var hashPasswordCost int

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an operator password for OPERATOR_PASSWORD_HASH",
	Long:  `Reads a password from the first line of stdin and prints its bcrypt hash. PASSWORD_PEPPER is applied when set.`,
	Args:  cobra.NoArgs,
	RunE:  runHashPassword,
}

func init() {
	hashPasswordCmd.Flags().IntVar(&hashPasswordCost, "cost", 12, "bcrypt cost (10-14)")
	rootCmd.AddCommand(hashPasswordCmd)
}

func runHashPassword(cmd *cobra.Command, _ []string) error {
	if hashPasswordCost < 10 || hashPasswordCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", hashPasswordCost)
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		return fmt.Errorf("password is empty")
	}

	auth := &config.AuthConfig{BcryptCost: hashPasswordCost, Pepper: os.Getenv("PASSWORD_PEPPER")}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
