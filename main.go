package main

import "github.com/BookingSync/dionysus-go/cmd"

func main() {
	cmd.Execute()
}
