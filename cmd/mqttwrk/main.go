package main

import "mqttwrk/cmd"

func main() {
	cmd.Execute()
}
