package main

import (
	"log"

	"github.com/go-dos/kvmdos/cli"
)

func main() {
	if err := cli.Parse(); err != nil {
		log.Fatal(err)
	}
}
