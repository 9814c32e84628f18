package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/task-manager/internal/auth"
	"github.com/sakif/task-manager/internal/mailer"
	sqliteRepo "github.com/sakif/task-manager/internal/repository/sqlite"
	"github.com/sakif/task-manager/internal/service"
)

// openAccounts builds an AccountService over the configured database for
// one-off admin commands. The returned func closes the database.
func openAccounts() (*service.AccountService, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	accounts := service.NewAccountService(db.Users(), tokens, auth.NewPasswordService(), logger,
		service.AccountOptions{
			RequireEmailVerification: cfg.Auth.RequireEmailVerification,
			BaseURL:                  cfg.BaseURL,
			Mailer:                   mailer.New(cfg, logger),
		})
	return accounts, func() { db.Close() }, nil
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userVerifyCmd())
	cmd.AddCommand(userDeactivateCmd())
	cmd.AddCommand(userLinkCmd())
	return cmd
}

func userCreateCmd() *cobra.Command {
	var in service.NewUserInput
	var inactive bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account (active immediately unless --inactive)",
		Long: `Create an account from the command line, for example the first administrator.

Examples:
  taskmanager user create --email admin@example.com --password 's3cret-pass' --admin --staff
  taskmanager user create --email bob@example.com --password 'hunter2hunter2' --nickname bob`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeDB, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeDB()

			in.PasswordConfirm = in.Password
			in.Activate = !inactive

			user, err := accounts.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d <%s> active=%t admin=%t\n",
				user.ID, user.Email, user.IsActive, user.IsAdmin)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Email, "email", "", "login email (required)")
	f.StringVar(&in.Password, "password", "", "password, 8 to 72 bytes (required)")
	f.StringVar(&in.Nickname, "nickname", "", "display nickname")
	f.StringVar(&in.FirstName, "first-name", "", "first name")
	f.StringVar(&in.LastName, "last-name", "", "last name")
	f.BoolVar(&in.IsAdmin, "admin", false, "grant administrator rights")
	f.BoolVar(&in.IsStaff, "staff", false, "mark as staff")
	f.BoolVar(&in.CanEdit, "can-edit", false, "grant edit permission")
	f.BoolVar(&inactive, "inactive", false, "create inactive (the user must verify their email)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <email>",
		Short: "Mark an account's email as verified and activate it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeDB, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			user, err := accounts.GetUserByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if _, err := accounts.MarkVerified(ctx, user.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %s\n", user.Email)
			return nil
		},
	}
}

func userDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <email>",
		Short: "Block an account from logging in (its tasks are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeDB, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			user, err := accounts.GetUserByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if err := accounts.Deactivate(ctx, user.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", user.Email)
			return nil
		},
	}
}

func userLinkCmd() *cobra.Command {
	var send bool

	cmd := &cobra.Command{
		Use:   "verification-link <email>",
		Short: "Print (or re-send with --send) an email verification link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeDB, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := cmd.Context()
			user, err := accounts.GetUserByEmail(ctx, args[0])
			if err != nil {
				return err
			}

			if send {
				if err := accounts.SendVerification(ctx, user); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent verification email to %s\n", user.Email)
				return nil
			}

			link, err := accounts.VerificationLink(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "email the link instead of printing it")
	return cmd
}
