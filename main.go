package main

import "tagbridge/cmd"

func main() {
	cmd.Execute()
}
