package migrations

import "embed"

// Schema files are named NNN_description.sql; NNN is the schema version.
var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS
)
