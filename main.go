package main

import "github.com/Taichi-iskw/vid-scribe/cmd"

func main() {
	cmd.Execute()
}
