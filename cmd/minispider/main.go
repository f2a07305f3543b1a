// Package main provides the entry point for the minispider CLI.
//
// minispider is a breadth-first web crawler that downloads media files
// (images by default) from the sites listed in its configuration.
//
// Usage:
//
//	minispider -c spider.conf
//	minispider history
//	minispider init
//
// See --help for all available options.
package main

func main() {
	Execute()
}
