package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to your launcher account",
	Long: `Sign in to your launcher account. The password may also be given in
BOTLAUNCHER_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Logout()
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if loginPassword == "" {
		loginPassword = os.Getenv("BOTLAUNCHER_PASSWORD")
	}
	if loginEmail == "" || loginPassword == "" {
		return errors.New("both --email and a password are required")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.Login(cmd.Context(), loginEmail, loginPassword)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", user.Email)
	return nil
}
