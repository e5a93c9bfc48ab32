package main

import (
	"os"

	"github.com/companionlabs/companion-memory/syncworker"
)

func main() {
	if err := syncworker.Run(); err != nil {
		os.Exit(1)
	}
}
