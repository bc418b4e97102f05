package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compose-fleet/fleetctl/internal/vars"
)

// newInventoryCommand creates the "inventory" command group for inspecting
// hosts, groups and resolved variables.
func newInventoryCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inspect inventory hosts, groups and resolved variables",
	}

	cmd.AddCommand(
		newInventoryListCommand(opts),
		newInventoryVarsCommand(opts),
	)
	return cmd
}

func newInventoryListCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List inventory groups and their hosts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSession(cmd, opts, false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, group := range s.inv.Groups() {
				hosts, err := s.inv.HostsInGroup(group.Name)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(hosts))
				for _, h := range hosts {
					names = append(names, h.Name)
				}
				fmt.Fprintf(out, "%s (%d): %s\n", group.Name, len(names), strings.Join(names, ", "))
			}
			return nil
		},
	}
	addVarsFlags(cmd)
	return cmd
}

func newInventoryVarsCommand(opts *Options) *cobra.Command {
	var (
		includeSecrets bool
		flat           bool
	)

	cmd := &cobra.Command{
		Use:   "vars <host>",
		Short: "Print the resolved variables of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, opts, includeSecrets)
			if err != nil {
				return err
			}
			host, ok := s.inv.Host(args[0])
			if !ok {
				return fmt.Errorf("host %q not in inventory", args[0])
			}
			resolved, err := s.hostVars(host)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if flat {
				flattened := vars.Flatten(resolved)
				keys := make([]string, 0, len(flattened))
				for k := range flattened {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s=%v\n", k, flattened[k])
				}
				return nil
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(resolved)
		},
	}
	cmd.Flags().BoolVar(&includeSecrets, "include-secrets", false, "Include decrypted vault variables")
	cmd.Flags().BoolVar(&flat, "flat", false, "Print dotted key=value lines instead of YAML")
	addVarsFlags(cmd)
	addVaultFlags(cmd)
	return cmd
}
