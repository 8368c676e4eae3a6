// ABOUTME: Version and product identification for Auralis binaries
// ABOUTME: Reported in bridge handshakes and the -version flag
package version

const (
	// Version is the release version
	Version = "0.3.0"

	// Product is sent as the product name in client hellos
	Product = "Auralis"

	// Manufacturer is sent alongside Product
	Manufacturer = "Resonate Protocol"
)

// String returns "Product Version"
func String() string {
	return Product + " " + Version
}
