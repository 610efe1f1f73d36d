package main

import "courier/cmd/courier/cmd"

func main() {
	cmd.Execute()
}
