package align

import (
	"testing"

	"alphaforge/testutil"
)

// The alignment engine is pure computation; storage backends stay behind the
// pit and framestore packages.
func TestNoStorageImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden,
		"alignment must not depend on storage drivers")
}
