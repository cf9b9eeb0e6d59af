// Command exchangebot runs the currency exchange Telegram bot.
package main

import (
	"log"

	corecmd "github.com/m3rciful/exchangebot/core/cmd"
	"github.com/m3rciful/exchangebot/internal/bot"
)

func main() {
	if err := corecmd.Run(bot.RunnerOptions()); err != nil {
		log.Fatalf("exchangebot: %v", err)
	}
}
