package main

import "comicvault/commands"

func main() {
	commands.Execute()
}
