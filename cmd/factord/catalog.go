package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/factord/internal/catalog"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Factor catalog tools",
	}
	cmd.AddCommand(newCatalogValidateCmd())
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a factor catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.LoadFile(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Catalog OK: %d factor(s)\n", cat.Len())
			for _, id := range cat.FactorIDs() {
				def, err := cat.Get(id)
				if err != nil {
					return err
				}
				fmt.Printf("  %-24s dims=%v\n", id, def.ScopeDimensions)
			}
			return nil
		},
	}
}
