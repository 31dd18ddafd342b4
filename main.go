package main

import (
	"github.com/smazurov/screencast/cmd"
)

func main() {
	cmd.NewCLI().Run()
}
