package main

import "github.com/brogergvhs/archivist/cmd"

func main() {
	cmd.Execute()
}
