package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"custodychain/internal/evidence"
	"custodychain/pkg/domain"

	"github.com/spf13/cobra"
)

func newEvidenceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Store and attach off-ledger evidence documents",
	}

	put := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a file and print its content reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			svc, err := a.evidenceService(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := svc.Put(cmd.Context(), data, mime.TypeByExtension(filepath.Ext(args[0])))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, ref)
			return nil
		},
	}

	var outPath string
	get := &cobra.Command{
		Use:   "get <ref>",
		Short: "Write stored content to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.evidenceService(cmd.Context())
			if err != nil {
				return err
			}
			data, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outPath != "" {
				return os.WriteFile(outPath, data, 0o600)
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	get.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")

	var expiry time.Duration
	url := &cobra.Command{
		Use:   "url <ref>",
		Short: "Print a time-limited download link (s3 backend)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.evidenceService(cmd.Context())
			if err != nil {
				return err
			}
			u, err := svc.URL(cmd.Context(), args[0], expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, u)
			return nil
		},
	}
	url.Flags().DurationVar(&expiry, "expiry", evidence.DefaultURLExpiry, "link lifetime")

	attach := &cobra.Command{
		Use:   "attach <product-id> <ref>",
		Short: "Point a product at an evidence reference (owner only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
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
			product, err := ledger.UpdateEvidenceReference(cmd.Context(), caller, id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "product %d evidence: %s\n", product.ID, product.EvidenceRef)
			return nil
		},
	}

	var temperature, humidity, timestamp, certPath string
	logCmd := &cobra.Command{
		Use:   "log <product-id>",
		Short: "Append an environmental log and attach the new document (owner only)",
		Example: `  custodyctl evidence log 1 --temperature 4.5 --humidity 60
  custodyctl evidence log 1 --temperature 5 --certificate cold-chain.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			caller, err := a.callerAddress()
			if err != nil {
				return err
			}
			ledger, err := a.ledgerFor(ctx)
			if err != nil {
				return err
			}
			owner, err := ledger.Owner(ctx)
			if err != nil {
				return err
			}
			if owner.IsZero() || caller != owner {
				return domain.UnauthorizedError{Operation: "append_log", Caller: caller}
			}
			product, err := ledger.GetProduct(ctx, id)
			if err != nil {
				return err
			}
			var cert *evidence.Certificate
			if certPath != "" {
				data, err := os.ReadFile(certPath)
				if err != nil {
					return err
				}
				cert = &evidence.Certificate{Name: filepath.Base(certPath), ContentType: mime.TypeByExtension(filepath.Ext(certPath)), Data: data}
			}
			svc, err := a.evidenceService(ctx)
			if err != nil {
				return err
			}
			entry := evidence.EnvironmentalLog{
				ProductID:   evidence.ProductID(id),
				Temperature: evidence.Reading(temperature),
				Humidity:    evidence.Reading(humidity),
				Timestamp:   timestamp,
				RecordedBy:  string(caller),
			}
			ref, doc, err := svc.AppendLog(ctx, product.EvidenceRef, entry, cert)
			if err != nil {
				return err
			}
			if _, err := ledger.UpdateEvidenceReference(ctx, caller, id, ref); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "product %d evidence: %s (%d logs)\n", id, ref, len(doc.Logs))
			return nil
		},
	}
	logCmd.Flags().StringVar(&temperature, "temperature", "", "temperature reading")
	logCmd.Flags().StringVar(&humidity, "humidity", "", "humidity reading")
	logCmd.Flags().StringVar(&timestamp, "timestamp", "", "reading time (default: now)")
	logCmd.Flags().StringVar(&certPath, "certificate", "", "certificate file to store with the entry")

	logs := &cobra.Command{
		Use:   "logs <product-id>",
		Short: "Print the environmental logs recorded for a product",
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
			svc, err := a.evidenceService(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := svc.LogsForProduct(cmd.Context(), product.EvidenceRef, id)
			if err != nil {
				return err
			}
			return a.printJSON(entries)
		},
	}

	cmd.AddCommand(put, get, url, attach, logCmd, logs)
	return cmd
}
