package main

import "btcgold-correlation/internal/cli"

func main() {
	cli.Execute()
}
