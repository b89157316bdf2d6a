package statetracker

import _ "embed"

//go:embed schema/status.schema.json
var statusSchemaJSON []byte
