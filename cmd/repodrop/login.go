package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/logging"
)

func loginCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser",
		Long: `Print the sign-in URL and wait for the redirect on the loopback address
named by REDIRECT_URI, e.g. http://localhost:3000/login/callback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			redirect, err := url.Parse(rt.cfg.RedirectURI)
			if err != nil {
				return fmt.Errorf("invalid REDIRECT_URI: %w", err)
			}
			if redirect.Scheme != "http" {
				return fmt.Errorf("REDIRECT_URI must be a loopback http address for CLI sign-in, got %q", rt.cfg.RedirectURI)
			}
			path := redirect.Path
			if path == "" {
				path = "/"
			}

			authURL, _, err := rt.sess.AuthCodeURL()
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", redirect.Host)
			if err != nil {
				return fmt.Errorf("listen for redirect: %w", err)
			}

			result := make(chan error, 1)
			mux := http.NewServeMux()
			mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				if e := q.Get("error"); e != "" {
					http.Error(w, "Sign-in failed: "+e, http.StatusUnauthorized)
					result <- fmt.Errorf("sign-in failed: %s %s", e, q.Get("error_description"))
					return
				}
				if err := rt.sess.Exchange(r.Context(), q.Get("state"), q.Get("code")); err != nil {
					http.Error(w, "Sign-in failed", http.StatusUnauthorized)
					result <- err
					return
				}
				fmt.Fprintln(w, "Signed in. You can close this window.")
				result <- nil
			})
			srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					logging.Error("redirect listener error", zap.Error(err))
				}
			}()
			defer srv.Close()

			fmt.Println("Open this URL to sign in:")
			fmt.Println()
			fmt.Println("  " + authURL)
			fmt.Println()

			select {
			case err := <-result:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return fmt.Errorf("sign-in timed out: %w", ctx.Err())
			}

			name, err := rt.repo.CurrentRepoName(ctx)
			if err != nil {
				logging.Warn("signed in but repository lookup failed", zap.Error(err))
				fmt.Println("Signed in.")
				return nil
			}
			fmt.Printf("Signed in to repository %q.\n", name)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the browser redirect")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved sign-in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()
			rt.sess.OnLogout(rt.repo.ClearCurrentRepo)
			if err := rt.sess.Logout(); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}
