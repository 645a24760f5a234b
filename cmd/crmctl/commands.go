package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/d-kuro/crmclient/pkg/types"
)

var errNotAuthenticated = errors.New("not logged in, run crmctl login")

func newLoginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the issued tokens",
		Long: `Log in with email and password and store the issued access and refresh
tokens in the configured credential store.

The password is read from --password, then CRM_PASSWORD, then stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}

			email := a.v.GetString("email")
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			password := a.v.GetString("password")
			if password == "" {
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
			}

			if err := client.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", email)
			return nil
		},
	}

	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password")
	_ = a.v.BindPFlag("email", cmd.Flags().Lookup("email"))
	_ = a.v.BindPFlag("password", cmd.Flags().Lookup("password"))
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			status, err := client.GetAuthStatus(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !status.Authenticated {
				fmt.Fprintln(out, "Not authenticated")
				fmt.Fprintf(out, "  Storage: %s\n", status.StoragePath)
				return nil
			}

			fmt.Fprintln(out, "Authenticated")
			fmt.Fprintf(out, "  Storage:       %s\n", status.StoragePath)
			fmt.Fprintf(out, "  Refresh token: %t\n", status.HasRefreshToken)
			if status.Subject != "" {
				fmt.Fprintf(out, "  Subject:       %s\n", status.Subject)
			}
			switch {
			case status.ExpiresAt.IsZero():
				fmt.Fprintln(out, "  Expires:       unknown")
			case status.IsExpired:
				fmt.Fprintf(out, "  Expires:       expired at %s (refreshed on next request)\n", status.ExpiresAt.Format(time.RFC3339))
			default:
				fmt.Fprintf(out, "  Expires:       in %s\n", status.ExpiresIn.Round(time.Second))
			}
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Send a GET request and print the response body",
		Example: `  crmctl get /contacts
  crmctl get "/deals?stage=won"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, http.MethodGet, args[0], nil)
		},
	}
}

func newRequestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "request <method> <path> [body]",
		Short: "Send a request with an optional JSON body",
		Long: `Send a request with an optional JSON body. A body of "-" is read from
stdin.`,
		Example: `  crmctl request POST /contacts '{"name":"Ada"}'
  crmctl request DELETE /contacts/42`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			if len(args) == 3 {
				body = []byte(args[2])
				if args[2] == "-" {
					var err error
					if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
						return fmt.Errorf("failed to read body: %w", err)
					}
				}
				if !json.Valid(body) {
					return fmt.Errorf("body is not valid JSON")
				}
			}
			return a.send(cmd, strings.ToUpper(args[0]), args[1], body)
		},
	}
}

func newBurstCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "burst <path>",
		Short: "Send concurrent GET requests sharing one token refresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}

			client, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			if !client.IsAuthenticated(cmd.Context()) {
				return errNotAuthenticated
			}

			var succeeded atomic.Int32
			started := time.Now()
			g, ctx := errgroup.WithContext(cmd.Context())
			for range concurrency {
				g.Go(func() error {
					if _, err := client.Get(ctx, args[0], nil); err != nil {
						return err
					}
					succeeded.Add(1)
					return nil
				})
			}
			err = g.Wait()

			stats := client.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "requests: %d/%d succeeded in %s\n",
				succeeded.Load(), concurrency, time.Since(started).Round(time.Millisecond))
			fmt.Fprintf(cmd.OutOrStdout(), "refresh cycles: %d, failures: %d\n", stats.Cycles, stats.Failures)
			return err
		},
	}

	cmd.Flags().IntP("concurrency", "n", 10, "number of concurrent requests")
	return cmd
}

// send issues one request and prints the body, indented when it is JSON.
func (a *app) send(cmd *cobra.Command, method, path string, body []byte) error {
	client, err := a.client(cmd.Context())
	if err != nil {
		return err
	}

	resp, err := client.Do(cmd.Context(), types.NewRequest(method, path, body))
	if err != nil {
		return err
	}
	return printBody(cmd.OutOrStdout(), resp.Body)
}

func printBody(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		buf.Reset()
		buf.Write(body)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty password")
	}
	return line, nil
}
