package main

import "github.com/ananyot-damnoenkiat/wallstreet-data-ops/cmd"

func main() {
	cmd.Execute()
}
