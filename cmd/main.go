package main

import (
	"os"

	"github.com/joho/godotenv"

	"cashlink/cmd/sugar"
	"cashlink/internal/common"
)

func main() {
	loggerInstance := common.NewLogger()

	if os.Getenv("SKIP_DOTENV") != "1" {
		if err := godotenv.Load("config/.env"); err != nil {
			loggerInstance.Err(err).Msg("unable to load env file")
			os.Exit(1)
		}
	}

	sugar.Execute(os.Exit, os.Args[1:], loggerInstance)
}
