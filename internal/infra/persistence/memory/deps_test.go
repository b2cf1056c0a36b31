package memory

import (
	"testing"

	"custodychain/testutil"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.LocalImportsExcept("pkg/domain"), "memory store builds on domain types only")
}
