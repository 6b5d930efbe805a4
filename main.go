package main

import (
	"fmt"
	"os"

	"docuquery/cmd/docuquery"
)

var version = "dev"

func main() {
	docuquery.SetVersion(version)
	if err := docuquery.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
