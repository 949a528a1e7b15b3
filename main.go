package main

import (
	"fmt"
	"os"

	"parish-system/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
