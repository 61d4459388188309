package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-authserver/internal/bootstrap"
	"github.com/giantswarm/oauth-authserver/server"
)

func newClientCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered OAuth clients",
	}
	cmd.AddCommand(
		newClientRegisterCommand(opts),
		newClientDeactivateCommand(opts),
		newClientListCommand(opts),
	)
	return cmd
}

// withServer runs fn against an engine on the configured store.
func withServer(ctx context.Context, opts *options, fn func(*server.Server) error) error {
	store, closeStore, err := bootstrap.OpenStore(ctx, opts.cfg.Storage, opts.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := bootstrap.NewServer(opts.cfg.Server, store, nil, opts.logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return fn(srv)
}

func newClientRegisterCommand(opts *options) *cobra.Command {
	var reg server.ClientRegistration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a client and print its credentials",
		Long: `Register a client and print its credentials.

The client secret is printed once and only its hash is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), opts, func(srv *server.Server) error {
				client, secret, err := srv.RegisterClient(cmd.Context(), reg)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "client_id:     %s\n", client.ID)
				fmt.Fprintf(out, "client_secret: %s\n", secret)
				fmt.Fprintf(out, "redirect_uris: %s\n", strings.Join(client.RedirectURIs, " "))
				fmt.Fprintf(out, "scopes:        %s\n", strings.Join(client.Scopes, " "))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&reg.Name, "name", "", "client display name")
	flags.StringArrayVar(&reg.RedirectURIs, "redirect-uri", nil, "allowed redirect URI, repeatable")
	flags.StringArrayVar(&reg.Scopes, "scope", nil, "allowed scope, repeatable")
	flags.StringVar(&reg.AllowedOrigin, "allowed-origin", "", "browser origin allowed to call the token endpoint")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("redirect-uri")
	return cmd
}

func newClientDeactivateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate CLIENT_ID",
		Short: "Deactivate a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), opts, func(srv *server.Server) error {
				if err := srv.DeactivateClient(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "client %s deactivated\n", args[0])
				return nil
			})
		},
	}
}

func newClientListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), opts, func(srv *server.Server) error {
				clients, err := srv.ListClients(cmd.Context())
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CLIENT ID\tNAME\tACTIVE\tCREATED\tREDIRECT URIS")
				for _, c := range clients {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
						c.ID, c.Name, c.Active,
						c.CreatedAt.UTC().Format(time.RFC3339),
						strings.Join(c.RedirectURIs, ","))
				}
				return tw.Flush()
			})
		},
	}
}
