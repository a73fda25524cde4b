package main

import "github.com/popcore/populate/internal/cli"

func main() {
	cli.Execute()
}
