package main

import (
	"github.com/daybook-app/daybook/client/cmd"
)

func main() {
	cmd.Execute()
}
