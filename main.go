package main

import (
	"log"

	"github.com/joho/godotenv"

	_ "time/tzdata"

	"finance-backoffice/cmd"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cmd.Execute()
}
