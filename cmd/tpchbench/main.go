package main

import (
	"github.com/tpchbench/tpchbench"
)

func main() {
	tpchbench.Main()
}
