package main

import "github.com/Bidon15/popsigner/popfleet/cmd"

func main() {
	cmd.Execute()
}
