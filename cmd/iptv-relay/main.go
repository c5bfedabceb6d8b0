// Package main is the entry point for iptv-relay.
package main

func main() {
	Execute()
}
