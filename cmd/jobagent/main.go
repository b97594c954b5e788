package main

import "github.com/rdelgatto/jobagent/internal/cli"

func main() {
	cli.Execute()
}
