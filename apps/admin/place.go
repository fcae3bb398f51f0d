package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
)

func (cli *commandLine) placeCmd() *cobra.Command {
	var req matrix.PlaceRequest
	var tier string
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a participant in the matrix (no --sponsor places the root)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.UserID = core.CleanString(req.UserID)
			req.SponsorID = core.CleanString(req.SponsorID)
			req.Username = core.CleanString(req.Username)
			if req.Username == "" {
				req.Username = req.UserID
			}
			req.Tier = plan.Tier(tier)
			if err := cli.check(req); err != nil {
				return err
			}
			p, err := cli.svc.PlaceInMatrix(cmd.Context(), req)
			if err != nil {
				return err
			}
			if p.Spillover() {
				cli.printf("placed %s at %s (level %d) under %s, spilled over from %s\n", p.UserID, p.Path, p.Level, p.ParentID, p.SponsorID)
			} else {
				cli.printf("placed %s at %s (level %d)\n", p.UserID, p.Path, p.Level)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "new participant id")
	cmd.Flags().StringVar(&req.SponsorID, "sponsor", "", "recruiting participant id")
	cmd.Flags().StringVar(&req.Username, "username", "", "display name (defaults to the id)")
	cmd.Flags().StringVar(&tier, "tier", "", "membership tier (defaults to the plan's)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
