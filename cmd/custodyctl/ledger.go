package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"custodychain/internal/core"
	"custodychain/pkg/domain"

	"github.com/spf13/cobra"
)

func newRoleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage the supplier, manufacturer, distributor and retailer registries",
	}

	var name, place string
	add := &cobra.Command{
		Use:   "add <kind> <address>",
		Short: "Register a participant (owner only)",
		Example: `  custodyctl role add supplier 0xA --name "Acme Metals" --place Pune
  custodyctl role add ret 0xD --name "Corner Shop"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRoleKind(args[0])
			if err != nil {
				return err
			}
			caller, err := a.callerAddress()
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			record, err := ledger.RegisterRole(cmd.Context(), caller, kind, domain.Address(args[1]), name, place)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %d: %s\n", record.Role, record.ID, record.Address)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&place, "place", "", "location")

	var asJSON bool
	list := &cobra.Command{
		Use:   "list <kind>",
		Short: "List a registry in id order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRoleKind(args[0])
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			roles, err := ledger.ListRoles(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(roles)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tADDRESS\tNAME\tPLACE")
			for _, r := range roles {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", r.ID, r.Address, r.Name, r.Place)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	lookup := &cobra.Command{
		Use:   "lookup <kind> <address>",
		Short: "Print the role id an address resolves to (0 when unregistered)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseRoleKind(args[0])
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			id, err := ledger.FindRoleByAddress(cmd.Context(), kind, domain.Address(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, id)
			return nil
		},
	}

	cmd.AddCommand(add, list, lookup)
	return cmd
}

func newProductCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Register and inspect products",
	}

	var description string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a product at stage Init (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.callerAddress()
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			product, err := ledger.RegisterProduct(cmd.Context(), caller, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "product %d: %s (%s)\n", product.ID, product.Name, product.Stage.Label())
			return nil
		},
	}
	add.Flags().StringVarP(&description, "description", "d", "", "product description")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a product as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			product, err := ledger.GetProduct(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printJSON(product)
		},
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List every product with its stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			products, err := ledger.ListProducts(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(products)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTAGE\tRMS\tMAN\tDIS\tRET\tEVIDENCE")
			for _, p := range products {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n", p.ID, p.Name, p.Stage.Label(), p.RMSID, p.ManID, p.DisID, p.RetID, p.EvidenceRef)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	verify := &cobra.Command{
		Use:   "verify <id> <stage>",
		Short: "Check whether a product has reached a stage",
		Long:  "Re-reads the product after a submission whose outcome is unknown. Exits non-zero when the product is not at the expected stage.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			stage, err := parseStage(args[1])
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			ok, product, err := core.VerifyStage(cmd.Context(), ledger, id, stage)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "product %d is at %s\n", product.ID, product.Stage.Label())
			if !ok {
				return fmt.Errorf("expected stage %s", stage.Label())
			}
			return nil
		},
	}

	cmd.AddCommand(add, show, list, verify)
	return cmd
}

func newTransitionCmd(a *app) *cobra.Command {
	names := make([]string, 0, len(core.Operations()))
	for _, op := range core.Operations() {
		names = append(names, op.String())
	}
	return &cobra.Command{
		Use:       "transition <operation> <product-id>",
		Short:     "Advance a product one custody stage",
		Long:      "Operations: " + strings.Join(names, ", ") + ". The caller must hold the role the operation requires.",
		Example:   "  custodyctl transition supplyRawMaterial 1 --as 0xA",
		Args:      cobra.ExactArgs(2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := core.ParseOperation(args[0])
			if err != nil {
				return err
			}
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			caller, err := a.callerAddress()
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			product, err := ledger.Transition(cmd.Context(), caller, op, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "product %d: %s\n", product.ID, product.Stage.Label())
			return nil
		},
	}
}

func newEventsCmd(a *app) *cobra.Command {
	var productID int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			events, err := ledger.ListEvents(cmd.Context(), productID)
			if err != nil {
				return err
			}
			return a.printJSON(events)
		},
	}
	cmd.Flags().IntVarP(&productID, "product", "p", 0, "only events for this product (0 = all)")
	return cmd
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, domain.InvalidArgumentError{Field: "product id", Reason: fmt.Sprintf("%q is not a positive integer", raw)}
	}
	return id, nil
}

// parseStage accepts an ordinal or a stage label such as "Retail".
func parseStage(raw string) (domain.Stage, error) {
	if n, err := strconv.Atoi(raw); err == nil && domain.Stage(n).Valid() {
		return domain.Stage(n), nil
	}
	for s := domain.StageInit; s <= domain.StageSold; s++ {
		if strings.EqualFold(strings.ReplaceAll(s.Label(), " ", ""), strings.ReplaceAll(raw, " ", "")) {
			return s, nil
		}
	}
	return 0, domain.InvalidArgumentError{Field: "stage", Reason: fmt.Sprintf("unknown stage %q", raw)}
}
