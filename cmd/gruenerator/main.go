package main

import (
	"os"

	"github.com/netzbegruenung/Gruenerator-sub005/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
