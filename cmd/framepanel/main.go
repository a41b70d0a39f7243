package main

import "github.com/bryanchriswhite/framepanel/cmd/framepanel/commands"

func main() {
	commands.Execute()
}
