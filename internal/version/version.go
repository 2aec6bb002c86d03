// ABOUTME: Build and product identification for the trackbridge binaries
// ABOUTME: Version is overridable at link time with -ldflags "-X"
package version

import "fmt"

// Version is replaced at build time
var Version = "0.3.0"

const (
	// Product is the name reported to servers in the client hello
	Product = "Trackbridge Player"

	// ServerProduct is the name the publisher advertises
	ServerProduct = "Trackbridge Server"

	// Manufacturer is reported alongside the product
	Manufacturer = "Trackbridge"
)

// String returns a one-line version banner
func String() string {
	return fmt.Sprintf("%s %s", Product, Version)
}
