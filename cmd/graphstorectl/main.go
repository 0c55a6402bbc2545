// Command graphstorectl is the thin control-plane entrypoint over the
// storage engine: schema sync, standalone proxy serving, and one-shot
// directory ingest — the three operations an operator needs outside of
// an embedding host process.
package main

import "github.com/coredex/graphstore/internal/cli"

func main() {
	cli.Execute()
}
