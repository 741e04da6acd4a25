package main

import "github.com/halvar-l/grabbit/cmd"

func main() {
	cmd.Execute()
}
