package main

import "riskmonitor/internal/cli"

func main() {
	cli.Execute()
}
