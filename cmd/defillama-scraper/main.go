package main

import "github.com/entrvpia/defillama-scraper/internal/cli"

func main() {
	cli.Execute()
}
