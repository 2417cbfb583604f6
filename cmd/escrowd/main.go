package main

import (
	"log"

	"github.com/Ayush1832/tg-escrow-bot-sub001/services/escrowd"
)

func main() {
	if err := escrowd.Main(); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
}
