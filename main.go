package main

import "github.com/gsambyal/h2inspect/cmd"

func main() {
	cmd.Execute()
}
