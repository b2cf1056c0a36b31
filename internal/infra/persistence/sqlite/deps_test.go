package sqlite

import (
	"testing"

	"custodychain/testutil"
)

// The sqlite backend may only build on the memory core and domain types.
func TestImportsStayInPersistenceLayer(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.LocalImportsExcept("pkg/domain", "internal/infra/persistence/memory"),
		"sqlite store builds on the memory core")
}
