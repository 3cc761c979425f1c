package main

import "github.com/vibast-solutions/ms-go-esim/cmd"

func main() {
	cmd.Execute()
}
