package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
)

func (cli *commandLine) saleCmd() *cobra.Command {
	var (
		sale       matrix.Sale
		amount, pv string
		preview    bool
	)
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Pay the commissions of a sale (or preview them with --preview)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if sale.Amount, err = decimal.NewFromString(amount); err != nil {
				return err
			}
			if pv != "" {
				if sale.PointValue, err = decimal.NewFromString(pv); err != nil {
					return err
				}
			}
			sale.BuyerID = core.CleanString(sale.BuyerID)
			if err := cli.check(sale); err != nil {
				return err
			}

			if preview {
				records, err := cli.svc.ComputeCommissions(cmd.Context(), sale.BuyerID, sale.Amount, sale.PointValue)
				if err != nil {
					return err
				}
				return cli.printJSON(records)
			}

			res, err := cli.svc.ProcessSale(cmd.Context(), sale)
			if err != nil {
				return err
			}
			if !res.Paid {
				cli.printf("sale %s already paid\n", res.Sale.ID)
			}
			return cli.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&sale.BuyerID, "buyer", "", "buying participant id")
	cmd.Flags().StringVar(&amount, "amount", "", "sale amount")
	cmd.Flags().StringVar(&pv, "pv", "", "point value")
	cmd.Flags().StringVar(&sale.ID, "sale-id", "", "sale id, generated when empty")
	cmd.Flags().BoolVar(&preview, "preview", false, "compute without paying")
	_ = cmd.MarkFlagRequired("buyer")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
