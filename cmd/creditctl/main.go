package main

import "os"

func main() {
	if err := newRootCmd(loadApp).Execute(); err != nil {
		os.Exit(1)
	}
}
