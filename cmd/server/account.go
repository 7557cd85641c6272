package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"optiquantia/internal/auth"
	"optiquantia/internal/cache"
)

// withApp builds the shared wiring, resolves the session and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and cache the identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			var err error
			if password, err = readSecret(cmd, "Password: "); err != nil {
				return err
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printResult(cmd, a.resolver.Login(ctx, args[0], password))
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and its profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		company, _ := cmd.Flags().GetString("company")
		password, err := readSecret(cmd, "Password: ")
		if err != nil {
			return err
		}
		if len(password) < 6 {
			return errors.New("password must be at least 6 characters")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printResult(cmd, a.resolver.Register(ctx, auth.RegisterInput{
				Email:        args[0],
				Credential:   password,
				DisplayName:  name,
				Organization: company,
			}))
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the cached identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.resolver.Logout(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the current identity",
	Long: `Print the current identity. --refresh re-checks the session with the
provider first; --follow keeps running and prints the cached identity each
time another process changes it (file cache only).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		follow, _ := cmd.Flags().GetBool("follow")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if refresh {
				a.resolver.Refresh(ctx)
			}
			if err := printIdentity(cmd, a); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			fs, ok := a.store.(*cache.FileStore)
			if !ok {
				return fmt.Errorf("--follow needs the file cache driver, not %q", a.cfg.Cache.Driver)
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return fs.Watch(ctx, a.sessions.Key(), func() {
				id, ok, err := a.sessions.Load(ctx)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "read cache:", err)
					return
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "null")
					return
				}
				_ = printJSON(cmd.OutOrStdout(), id)
			})
		})
	},
}

func printIdentity(cmd *cobra.Command, a *app) error {
	id, ok := a.resolver.Identity()
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "null")
		return nil
	}
	return printJSON(cmd.OutOrStdout(), id)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update the display name or company of the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var u auth.ProfileUpdate
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			u.DisplayName = &v
		}
		if cmd.Flags().Changed("company") {
			v, _ := cmd.Flags().GetString("company")
			u.Organization = &v
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return printResult(cmd, a.resolver.UpdateProfile(ctx, u))
		})
	},
}

func init() {
	loginCmd.Flags().String("password", "", "password (prompted when omitted)")

	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("company", "", "organization")

	whoamiCmd.Flags().Bool("refresh", false, "re-check the session with the provider")
	whoamiCmd.Flags().Bool("follow", false, "print the cached identity whenever it changes")

	profileCmd.Flags().String("name", "", "new display name")
	profileCmd.Flags().String("company", "", "new organization")
}
