// Package coordinatormigrations embeds the coordinator service's SQL
// migrations into the binary.
package coordinatormigrations

import "embed"

//go:embed *.sql
var Files embed.FS
