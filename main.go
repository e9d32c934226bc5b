package main

import "cryptochat/cmd"

func main() {
	cmd.Execute()
}
