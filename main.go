package main

import "github.com/kozaktomas/facelookup/cmd"

func main() {
	cmd.Execute()
}
