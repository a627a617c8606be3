package main

import "shopwatch/internal/cli"

func main() {
	cli.Execute()
}
