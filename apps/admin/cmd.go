package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/storage/database"
)

var (
	migrateFunc = database.Migrate // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	svc        *matrix.Service
	validate   *validator.Validate
	translator ut.Translator
	out        io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Downline matrix administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(cli.migrateCmd())
	root.AddCommand(cli.placeCmd())
	root.AddCommand(cli.saleCmd())
	root.AddCommand(cli.qualifyCmd())
	root.AddCommand(cli.resetMonthCmd())
	root.AddCommand(cli.treeCmd())
	return root
}

// run executes args, args[0] being the program name.
func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// check runs the same validations as the api on command input.
func (cli *commandLine) check(v interface{}) error {
	return core.Validate(cli.validate, cli.translator, v)
}

func (cli *commandLine) printJSON(v interface{}) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run database migrations (up, up-by-one, up-to, down, down-to, redo, reset, status, version)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			return migrateFunc(cmd.Context(), cli.db, args[0], args[1:]...)
		},
	}
}

func (cli *commandLine) qualifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qualify",
		Short: "Recompute every participant's TLI level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := cli.svc.RunQualificationPass(cmd.Context())
			if err != nil {
				return err
			}
			cli.printf("qualification pass: %d nodes, %d changed in %s\n", res.Nodes, res.Changed, res.Duration)
			return nil
		},
	}
}

func (cli *commandLine) resetMonthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-month",
		Short: "Move month-to-date earnings into last month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cli.svc.RunMonthlyReset(cmd.Context()); err != nil {
				return err
			}
			cli.printf("monthly earnings reset\n")
			return nil
		},
	}
}

func (cli *commandLine) treeCmd() *cobra.Command {
	var (
		userID string
		depth  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the matrix below a participant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tree, err := cli.svc.GetTree(cmd.Context(), userID, depth)
			if err != nil {
				return err
			}
			if asJSON {
				return cli.printJSON(tree)
			}
			printTree(cli.out, tree, 0)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "participant id")
	cmd.Flags().IntVar(&depth, "depth", 2, "levels below the participant")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printTree(w io.Writer, n matrix.TreeNode, indent int) {
	pad := strings.Repeat("  ", indent)
	if n.Placeholder {
		_, _ = fmt.Fprintf(w, "%s%d. (empty)\n", pad, n.Position)
		return
	}
	_, _ = fmt.Fprintf(w, "%s%d. %s [%s] %s\n", pad, n.Position, n.UserID, n.Path, n.Tier)
	for _, c := range n.Children {
		printTree(w, c, indent+1)
	}
}
