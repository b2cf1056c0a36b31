package core

import "context"

// VerifyStage re-reads a product after an inconclusive submission and reports
// whether it sits at expected. Mutations are atomic, so the re-read is
// authoritative for the outcome of the earlier call.
func VerifyStage(ctx context.Context, ledger *Ledger, productID int, expected Stage) (bool, Product, error) {
	product, err := ledger.GetProduct(ctx, productID)
	if err != nil {
		return false, Product{}, err
	}
	return product.Stage == expected, product, nil
}
