/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/TravisTheTechie/Cashbox/cmd/cashbox/cmd"

func main() {
	cmd.Execute()
}
