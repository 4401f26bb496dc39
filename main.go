package main

import "embedwrap/cmd"

func main() {
	cmd.Execute()
}
