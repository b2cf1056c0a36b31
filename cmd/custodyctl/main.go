// Command custodyctl operates a custody ledger: it registers participants and
// products, moves products through the custody stages, manages evidence
// documents and serves the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"custodychain/internal/blob"
	"custodychain/internal/config"
	"custodychain/internal/core"
	"custodychain/internal/evidence"
	"custodychain/pkg/domain"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

// app holds the dependencies shared by subcommands. They are opened lazily
// so that --help and flag errors never touch storage.
type app struct {
	stdout, stderr io.Writer

	configPath string
	caller     string

	cfg      config.Config
	logger   *log.Logger
	store    core.ClosableStore
	ledger   *core.Ledger
	evidence *evidence.Service
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "custodyctl",
		Short:         "Role-gated custody ledger for supply-chain products",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath, config.Default())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.NewLogger(a.stderr)
			if a.caller == "" {
				a.caller = cfg.Owner
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultPath, "config file")
	root.PersistentFlags().StringVar(&a.caller, "as", "", "identity to act as (default: configured owner)")

	root.AddCommand(
		newInitCmd(a),
		newRoleCmd(a),
		newProductCmd(a),
		newTransitionCmd(a),
		newEventsCmd(a),
		newEvidenceCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) ledgerFor(ctx context.Context, opts ...core.Option) (*core.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	store, err := core.OpenPersistentStore(ctx, a.cfg.StorageOptions(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open ledger storage: %w", err)
	}
	a.store = store
	opts = append([]core.Option{core.WithLogger(a.logger)}, opts...)
	a.ledger = core.NewLedger(store, opts...)
	return a.ledger, nil
}

func (a *app) evidenceService(ctx context.Context) (*evidence.Service, error) {
	if a.evidence != nil {
		return a.evidence, nil
	}
	store, err := blob.Open(ctx, a.cfg.BlobOptions())
	if err != nil {
		return nil, fmt.Errorf("open evidence store: %w", err)
	}
	a.evidence = evidence.NewService(store, evidence.WithLogger(a.logger))
	return a.evidence, nil
}

func (a *app) callerAddress() (domain.Address, error) {
	if a.caller == "" {
		return "", errors.New("no caller identity: pass --as or set owner in the config")
	}
	return domain.Address(a.caller), nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [owner]",
		Short: "Designate the ledger owner",
		Long:  "Sets the owner identity once. Re-running with the same owner is a no-op.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := a.cfg.Owner
			if len(args) == 1 {
				owner = args[0]
			}
			if owner == "" {
				return errors.New("owner required: pass it as an argument or set owner in the config")
			}
			ledger, err := a.ledgerFor(cmd.Context())
			if err != nil {
				return err
			}
			if err := ledger.Initialize(cmd.Context(), domain.Address(owner)); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "owner: %s\n", owner)
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			out, err := a.cfg.Encode()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(out)
			return err
		},
	}
}
