package main

import "mortality-alerts/internal/cli"

func main() {
	cli.Execute()
}
