package main

import (
	"os"

	"es-schedule/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
