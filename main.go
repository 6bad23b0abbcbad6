package main

import "github.com/fakeyudi/focustrack/cmd"

func main() {
	cmd.Execute()
}
