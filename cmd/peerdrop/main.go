package main

import (
	"github.com/peerdrop/peerdrop/internal/logging"
)

func main() {
	logging.Init()
	Execute()
}
