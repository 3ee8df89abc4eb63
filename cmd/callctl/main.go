package main

import "github.com/dkeye/voicecall/cmd/callctl/cmd"

func main() {
	cmd.Execute()
}
