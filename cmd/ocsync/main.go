package main

import (
	"github.com/dl-alexandre/ocsync/internal/cli"
)

func main() {
	_ = cli.Execute()
}
