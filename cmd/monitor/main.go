package main

import "github.com/vietddude/workflow-monitor/internal/cli"

func main() {
	cli.Execute()
}
