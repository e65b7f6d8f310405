package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"courier-dispatch/internal/trees"
)

func newValidateCmd() *cobra.Command {
	var prices string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the conversation graphs and the price table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := loadPrices(prices)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			err = trees.Validate(
				trees.Booking(trees.BookingDeps{Pricer: table}),
				trees.Negotiation(nil),
				trees.FulfillerJobs(nil),
				trees.Operator(trees.OperatorDeps{}),
			)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&prices, "prices", "", "price table YAML (default: embedded table)")
	return cmd
}
