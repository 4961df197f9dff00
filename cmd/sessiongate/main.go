package main

import "github.com/medcontrol/sessiongate/cmd/sessiongate/cmd"

func main() {
	cmd.Execute()
}
