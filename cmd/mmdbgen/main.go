// Command mmdbgen is a small worked example of using the mmdbwriter
// package: it builds a toy City-style database from a handful of hardcoded
// networks and writes it to the path given on the command line.
package main

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/mmdbgen/mmdbwriter"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <output.mmdb>\n", os.Args[0])
		os.Exit(2)
	}

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType:   "GeoIP2-City-Example",
		Languages:      []string{"en"},
		Description:    "Example GeoIP2 City database",
		IPVersion:      6,
		IPv4Compatible: true,
	})
	if err != nil {
		fatal(err)
	}

	records := []struct {
		network string
		country string
		city    string
	}{
		{"1.0.0.0/8", "AU", "Brisbane"},
		{"1.10.10.0/24", "JP", "Tokyo"},
		{"2001:db8::/32", "US", "Ashburn"},
	}

	for _, r := range records {
		prefix := netip.MustParsePrefix(r.network)
		value := mmdbwriter.Map{
			"country": mmdbwriter.Map{
				"iso_code": mmdbwriter.String(r.country),
			},
			"city": mmdbwriter.Map{
				"names": mmdbwriter.Map{
					"en": mmdbwriter.String(r.city),
				},
			},
		}
		if err := tree.InsertNetwork(prefix, value); err != nil {
			fatal(err)
		}
	}

	if err := tree.ToDBFile(os.Args[1]); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "mmdbgen:", err)
	os.Exit(1)
}
