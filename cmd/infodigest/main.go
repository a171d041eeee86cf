package main

import (
	"infodigest/cmd/cmd"
	"infodigest/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
