package migrations

import "embed"

// Files exposes the ledger SQL migrations packaged with the service.
//
//go:embed sql/*.sql
var Files embed.FS

// Dir is the root directory containing migrations within the embedded filesystem.
const Dir = "sql"
