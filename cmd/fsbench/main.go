package main

import (
	"github.com/fsbench/fsbench/cmd"
)

func main() {
	cmd.Execute()
}
