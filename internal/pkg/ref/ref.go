// internal/pkg/ref/ref.go
package ref

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// InvoiceNumber generates a unique invoice number, e.g. INV-20240101120000-01HX....
func InvoiceNumber() string {
	return newRef("INV")
}

// TransactionRef generates a unique token transaction reference.
func TransactionRef() string {
	return newRef("TXN")
}

// SessionRef generates a unique checkout session reference.
func SessionRef() string {
	return newRef("CS")
}

func newRef(prefix string) string {
	now := time.Now().UTC()
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102150405"), id.String()[16:])
}
