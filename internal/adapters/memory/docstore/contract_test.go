package docstore

import (
	"testing"

	"github.com/yellowbus/route-tracker/internal/adapters/contracttest"
	docstoreport "github.com/yellowbus/route-tracker/internal/ports/out/docstore"
)

func TestContract_DocStore(t *testing.T) {
	contracttest.RunDocStore(t, func(t *testing.T) (docstoreport.Store, func()) {
		t.Helper()
		return NewStore(), nil
	})
}
