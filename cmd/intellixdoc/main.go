package main

import "intellixdoc/internal/cli"

func main() {
	cli.Execute()
}
