package main

import "github.com/vibast-solutions/ms-go-carwash-payments/cmd"

func main() {
	cmd.Execute()
}
