package main

import "github.com/samsaffron/term-chat/cmd"

var version = "dev"

func main() {
	cmd.Version = version
	cmd.Execute()
}
