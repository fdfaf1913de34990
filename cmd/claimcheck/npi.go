package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimcheck/internal/npi"
)

func newNPICmd(a *app) *cobra.Command {
	var first, last, state string

	cmd := &cobra.Command{
		Use:   "npi [NPI[,NPI...]]",
		Short: "Look up providers in the NPPES NPI Registry",
		Long: `Look up providers in the NPPES NPI Registry, either by number or,
with --last-name, by name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := npi.NewClient(npi.Options{BaseURL: a.settings.NPIRegistryURL, Logger: a.logger})

			var infos []*npi.ProviderInfo
			if last != "" {
				found, err := client.SearchByName(cmd.Context(), first, last, state)
				if err != nil {
					return err
				}
				infos = found
			} else {
				numbers, err := parseNPIs(strings.Join(args, ","))
				if err != nil {
					return err
				}
				if len(numbers) == 0 {
					return fmt.Errorf("no NPIs specified")
				}
				found, errs := client.LookupAll(cmd.Context(), numbers)
				for i, n := range numbers {
					switch {
					case errs[i] != nil:
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", n, errs[i])
					case found[i] == nil:
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: not found\n", n)
					default:
						infos = append(infos, found[i])
					}
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NPI\tNAME\tCREDENTIAL\tTYPE\tSPECIALTY\tLOCATION\tPHONE\tSTATUS")
			for _, p := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.NPI, p.Name, p.Credential, p.Type, p.PrimaryTaxonomy, p.PracticeAddress, p.PracticePhone, p.Status)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&first, "first-name", "", "Provider first name")
	cmd.Flags().StringVar(&last, "last-name", "", "Provider last name; searches by name instead of number")
	cmd.Flags().StringVar(&state, "state", "", "Two-letter state code to narrow a name search")

	return cmd
}

// parseNPIs splits a comma-separated list and checks each entry's check digit.
func parseNPIs(s string) ([]string, error) {
	var npis []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !npi.ValidCheckDigit(p) {
			return nil, fmt.Errorf("%q is not a valid 10-digit NPI", p)
		}
		npis = append(npis, p)
	}
	return npis, nil
}
