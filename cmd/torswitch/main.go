// Package main provides the entry point for the torswitch CLI.
//
// torswitch talks to Tor's control port to move traffic to a new exit node
// and confirms the change through an IP-echo endpoint.
//
// Usage:
//
//	torswitch ip
//	torswitch rotate --count 3 --interval 30s
//	torswitch status
//	torswitch history --markdown
//
// See --help for all available options.
package main

func main() {
	Execute()
}
