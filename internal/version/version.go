// Package version carries the build version of the Alchemy Machine controller.
package version

// Version is overridden at build time with:
//
//	go build -ldflags "-X github.com/AaronLay10/AlchemyMachine/internal/version.Version=x.y.z"
var Version = "0.1.0"
