package main

import "github.com/Laisky/lellostore/cmd"

func main() {
	cmd.Execute()
}
