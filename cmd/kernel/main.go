package main

import "github.com/ramiqadoumi/go-task-kernel/services/kernel/cli"

func main() {
	cli.Execute()
}
