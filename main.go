package main

import "github.com/audiolibrelab/wavescope/cmd"

func main() {
	cmd.Execute()
}
