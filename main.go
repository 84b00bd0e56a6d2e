package main

import "github.com/kamir/global-schema-registry/cmd"

func main() {
	cmd.Execute()
}
