package main

import "github.com/andresmejia3/pixelvault/cmd"

func main() {
	cmd.Execute()
}
