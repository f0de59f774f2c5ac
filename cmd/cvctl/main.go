package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hr-platform/backend/pkg/logger"
)

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cliName, err)
		os.Exit(1)
	}
}
