// Package ledgermigrations embeds the ledger service's SQL migrations into
// the binary.
package ledgermigrations

import "embed"

//go:embed *.sql
var Files embed.FS
