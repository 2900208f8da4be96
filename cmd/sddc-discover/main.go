// Command sddc-discover lists receiver monitors advertised over mDNS.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/rjboer/GoSDDC/internal/mdns"
)

const rule = "==============================================================="

func main() {
	fs := pflag.NewFlagSet("sddc-discover", pflag.ExitOnError)
	timeout := fs.DurationP("timeout", "t", 5*time.Second, "Browse timeout")
	_ = fs.Parse(os.Args[1:])

	fmt.Println(rule)
	fmt.Println(" mDNS / DNS-SD Discovery")
	fmt.Println(rule)
	fmt.Printf(" Service : %s.%s\n", mdns.Service, mdns.Domain)
	fmt.Printf(" Timeout : %s\n", *timeout)

	start := time.Now()
	hosts, err := mdns.Discover(context.Background(), *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(1)
	}
	printHosts(os.Stdout, hosts, time.Since(start))
}

func printHosts(w io.Writer, hosts []mdns.Host, took time.Duration) {
	took = took.Truncate(time.Millisecond)
	if len(hosts) == 0 {
		fmt.Fprintf(w, "No monitors found (%s)\n", took)
		return
	}
	fmt.Fprintf(w, "Discovered %d monitor(s) in %s\n", len(hosts), took)
	fmt.Fprintln(w, rule)

	for i, h := range hosts {
		fmt.Fprintf(w, " Monitor #%d\n", i+1)
		fmt.Fprintf(w, " Instance : %s\n", h.Instance)
		fmt.Fprintf(w, " Hostname : %s\n", h.Hostname)
		if model, ok := h.Attr("model"); ok {
			fmt.Fprintf(w, " Model    : %s\n", model)
		}
		if fw, ok := h.Attr("firmware"); ok {
			fmt.Fprintf(w, " Firmware : %s\n", fw)
		}

		path, ok := h.Attr("path")
		if !ok {
			path = "/"
		}
		fmt.Fprintln(w, " Endpoints:")
		if len(h.Addresses) == 0 {
			fmt.Fprintln(w, "   <none>")
		}
		for _, ip := range h.Addresses {
			host := ip.String()
			if ip.To4() == nil {
				host = "[" + host + "]"
			}
			fmt.Fprintf(w, "   - http://%s:%d%s\n", host, h.Port, path)
		}
		if extra := otherAttrs(h); extra != "" {
			fmt.Fprintf(w, " TXT      : %s\n", extra)
		}
		fmt.Fprintln(w, rule)
	}
}

func otherAttrs(h mdns.Host) string {
	var out []string
	for _, rec := range h.TXT {
		key, _, _ := strings.Cut(rec, "=")
		switch key {
		case "model", "firmware", "path":
			continue
		}
		out = append(out, rec)
	}
	return strings.Join(out, " ")
}
