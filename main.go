// Package main is the entry point for the coverbeam CLI.
package main

import "github.com/coverbeam/coverbeam/internal/cli"

func main() {
	cli.Execute()
}
