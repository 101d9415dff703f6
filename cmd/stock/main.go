package main

import "github.com/giovaniif/stock-reservation/cmd/api"

func main() {
	api.StartServer()
}
