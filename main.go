package main

import (
	"github.com/cometsec/comet/cmd"
)

func main() {
	cmd.Execute()
}
