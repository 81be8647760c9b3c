// Command alchemy runs the Alchemy Machine puzzle controller.
package main

import (
	"log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("alchemy: %v", err)
	}
}
