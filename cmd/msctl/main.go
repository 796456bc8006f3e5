package main

import "ikarusms/cmd/msctl/command"

func main() {
	command.Execute()
}
