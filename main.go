package main

import "github.com/matchpilot/matchpilot/cmd"

func main() {
	cmd.Execute()
}
