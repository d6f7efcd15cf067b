package main

import "github.com/tpodg/ipsettle/internal/cli"

func main() {
	cli.Execute()
}
