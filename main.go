/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "relaybot/cmd"

func main() {
	cmd.Execute()
}
