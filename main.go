package main

import (
	"log"

	"github.com/talentai/talentai/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
