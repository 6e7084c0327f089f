// Pairing Processor Lambda entry point
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"deer-cwd-pairing/internal/handlers"
	"deer-cwd-pairing/internal/utils"
)

func main() {
	_ = utils.InitLogger(os.Getenv("LOG_LEVEL"))
	defer utils.Sync()

	handler, err := handlers.NewPairingProcessorHandler()
	if err != nil {
		panic("Failed to create handler: " + err.Error())
	}
	defer handler.Close()

	lambda.Start(handler.Handle)
}
