// Command bookswap serves the book exchange HTTP API, backed by PostgreSQL
// and the ClickHouse event journal, until SIGINT or SIGTERM.
package main

import (
	"log"

	"bookswap/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatal(err)
	}

	if err := application.Run(); err != nil {
		log.Fatal(err)
	}
}
