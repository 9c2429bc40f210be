package main

import (
	"log"

	"emojiboard/services/leaderboardd"
)

func main() {
	if err := leaderboardd.Main(); err != nil {
		log.Fatalf("leaderboardd: %v", err)
	}
}
