package main

import "github.com/corescope/corescope/internal/cli"

func main() {
	cli.Execute()
}
