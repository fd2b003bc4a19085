package main

import "github.com/bundy-dns/memmgrd/cmd/memmgrd/cmd"

func main() {
	cmd.Execute()
}
