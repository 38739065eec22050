package main

import "github.com/ramiqadoumi/go-task-kernel/services/auditor/cli"

func main() {
	cli.Execute()
}
