// Command hash-key derives a keychain entry for a new delivery API key.
// The output line goes into the auth.keys configuration list.
package main

import (
	"flag"
	"fmt"
	"os"

	"videoflix/internal/auth"
)

func main() {
	name := flag.String("name", "", "key name recorded with the entry")
	key := flag.String("key", "", "plaintext API key to hash")
	flag.Parse()

	if *name == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "usage: hash-key -name <name> -key <key>")
		os.Exit(2)
	}
	entry, err := auth.HashAPIKey(*name, *key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(entry)
}
