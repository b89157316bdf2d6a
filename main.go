package main

import (
	"os"

	"github.com/lockplane/rowmigrate/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
