package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jrsteele09/helpdesk-session/authapi"
	apperrors "github.com/jrsteele09/helpdesk-session/internal/errors"
	"github.com/jrsteele09/helpdesk-session/permissions"
	"github.com/jrsteele09/helpdesk-session/users"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const passwordEnvVar = "HELPDESK_PASSWORD"

func loginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if username == "" {
				if username, err = a.prompt(cmd, "Username: "); err != nil {
					return err
				}
			}
			password = firstNonEmpty(password, os.Getenv(passwordEnvVar))
			if password == "" {
				if password, err = a.prompt(cmd, "Password: "); err != nil {
					return err
				}
			}

			session, err := svc.Login(ctx, authapi.Credentials{Username: username, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", session.User.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or "+passwordEnvVar+")")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return svc.Logout(cmd.Context())
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return printJSON(cmd.OutOrStdout(), svc.Session())
		},
	}
}

func refreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			tokens, err := svc.ManualRefresh(cmd.Context())
			if err != nil {
				return err
			}
			if tokens.ExpiryKnown() {
				fmt.Fprintf(cmd.OutOrStdout(), "Session refreshed, expires %s\n", tokens.ExpiresAt.Local().Format(time.RFC1123))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Session refreshed, expiry unknown")
			}
			return nil
		},
	}
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path with the stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			target := a.cfg.GetBaseURL() + "/" + strings.TrimPrefix(args[0], "/")
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := svc.HTTPClient().Do(req)
			if err != nil {
				if apperrors.KindOf(err) == apperrors.KindUnauthenticated || apperrors.KindOf(err) == apperrors.KindRefreshFailed {
					return fmt.Errorf("session ended, log in again: %w", err)
				}
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				log.Warn().Int("status", resp.StatusCode).Str("path", args[0]).Msg("Request failed")
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
}

func canCmd(a *app) *cobra.Command {
	var (
		perms      []string
		roles      []string
		requireAll bool
	)
	cmd := &cobra.Command{
		Use:   "can <url>",
		Short: "Evaluate a route guard against the stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			req := permissions.Requirement{RequireAll: requireAll}
			for _, p := range perms {
				req.Permissions = append(req.Permissions, users.PermissionID(strings.ToUpper(p)))
			}
			for _, r := range roles {
				req.Roles = append(req.Roles, users.RoleType(strings.ToLower(r)))
			}
			decision := svc.CanActivate(args[0], req)
			if err := printJSON(cmd.OutOrStdout(), decision); err != nil {
				return err
			}
			if !decision.Allowed() {
				return fmt.Errorf("%s: %w", decision.Reason, apperrors.ErrForbidden)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "Required permission (repeatable)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Required role (repeatable)")
	cmd.Flags().BoolVar(&requireAll, "all", false, "Require every listed permission and role")
	return cmd
}

// watchCmd keeps the session open, printing expiry warnings and session
// changes until interrupted.
func watchCmd(a *app) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the session and warn before it expires",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeFn, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Err(err).Msg("Metrics server stopped")
					}
				}()
				defer srv.Close()
			}

			warnings, cancelWarnings := svc.WarningStatus()
			defer cancelWarnings()
			changes, cancelChanges := svc.Subscribe()
			defer cancelChanges()

			go svc.Run(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching session (authenticated: %t)\n", svc.IsAuthenticated())
			for {
				select {
				case <-ctx.Done():
					return nil
				case warning, ok := <-warnings:
					if !ok {
						return nil
					}
					if warning {
						fmt.Fprintln(out, "Session is about to expire, run 'helpdesk-session refresh' to stay signed in")
					} else {
						fmt.Fprintln(out, "Session expiry warning cleared")
					}
				case session, ok := <-changes:
					if !ok {
						return nil
					}
					if !session.Authenticated {
						fmt.Fprintln(out, "Session ended")
						continue
					}
					name := "unknown user"
					if session.User != nil {
						name = session.User.DisplayName()
					}
					fmt.Fprintf(out, "Session updated for %s\n", name)
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func (a *app) prompt(cmd *cobra.Command, label string) (string, error) {
	if a.stdin == nil {
		a.stdin = bufio.NewReader(cmd.InOrStdin())
	}
	fmt.Fprint(cmd.ErrOrStderr(), label)
	line, err := a.stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

