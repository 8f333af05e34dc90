package main

import "github.com/nextlevelbuilder/waorchestrator/cmd"

func main() {
	cmd.Execute()
}
