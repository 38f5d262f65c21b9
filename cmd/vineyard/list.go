package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vineyard-core/internal/catalog"
	"github.com/nerrad567/vineyard-core/internal/registry"
)

// listFunc writes one table from the registry to w.
type listFunc func(ctx context.Context, reg *registry.Registry, w io.Writer, args []string) error

// newListCmd builds a read-only command over a freshly opened store.
func newListCmd(opts *options, use, short string, args cobra.PositionalArgs, list listFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, positional []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, reg, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if err := list(cmd.Context(), reg, tw, positional); err != nil {
				return err
			}
			return tw.Flush()
		},
	}
}

func newServicesCmd(opts *options) *cobra.Command {
	return newListCmd(opts, "services", "List registered services", cobra.NoArgs,
		func(ctx context.Context, reg *registry.Registry, w io.Writer, _ []string) error {
			services, err := reg.ListServices(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
			for _, s := range services {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
			}
			return nil
		})
}

func newEnvironmentsCmd(opts *options) *cobra.Command {
	return newListCmd(opts, "environments", "List deployment environments", cobra.NoArgs,
		func(ctx context.Context, reg *registry.Registry, w io.Writer, _ []string) error {
			envs, err := reg.ListEnvironments(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tNAME\tSCOPE\tDESCRIPTION")
			for _, e := range envs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Scope, e.Description)
			}
			return nil
		})
}

func newMaintainersCmd(opts *options) *cobra.Command {
	return newListCmd(opts, "maintainers", "List maintainers", cobra.NoArgs,
		func(ctx context.Context, reg *registry.Registry, w io.Writer, _ []string) error {
			maintainers, err := reg.ListMaintainers(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "NAME\tEMAIL\tTEAM")
			for _, m := range maintainers {
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, m.Email, m.Team)
			}
			return nil
		})
}

func newAPIsCmd(opts *options) *cobra.Command {
	return newListCmd(opts, "apis", "List APIs and their resources", cobra.NoArgs,
		func(ctx context.Context, reg *registry.Registry, w io.Writer, _ []string) error {
			apis, err := reg.ListAPIs(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "ID\tNAME\tCONTEXT\tRESOURCES")
			for _, a := range apis {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Context, resourceSummary(a))
			}
			return nil
		})
}

func newDeploymentsCmd(opts *options) *cobra.Command {
	return newListCmd(opts, "deployments [service-id]", "List deployments, optionally of one service", cobra.MaximumNArgs(1),
		func(ctx context.Context, reg *registry.Registry, w io.Writer, args []string) error {
			var (
				deps []registry.Deployment
				err  error
			)
			if len(args) == 1 {
				deps, err = reg.ListDeployments(ctx, args[0])
			} else {
				deps, err = reg.ListAllDeployments(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "SERVICE\tENVIRONMENT\tSTATE\tVERSION\tENDPOINT")
			for _, d := range deps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ServiceID, d.EnvironmentID, d.State, d.Version, d.Endpoint)
			}
			return nil
		})
}

// resourceSummary counts resources per type, e.g. "rest:2 jms:1".
func resourceSummary(a catalog.API) string {
	counts := map[string]int{}
	var order []string
	for _, r := range a.Resources {
		if counts[r.Type] == 0 {
			order = append(order, r.Type)
		}
		counts[r.Type]++
	}
	if len(order) == 0 {
		return "-"
	}
	parts := make([]string, len(order))
	for i, typ := range order {
		parts[i] = fmt.Sprintf("%s:%d", typ, counts[typ])
	}
	return strings.Join(parts, " ")
}
