// Command prefixsetctl builds, queries, and serves prefix sets from the
// command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/prefixset/prefixset"
	"github.com/prefixset/prefixset/pkg/cidrtext"
	"github.com/prefixset/prefixset/pkg/events"
	"github.com/prefixset/prefixset/pkg/guard"
	"github.com/prefixset/prefixset/pkg/listsource"
	"github.com/prefixset/prefixset/pkg/logger"
	"github.com/prefixset/prefixset/pkg/utils"
)

// staticTokenProvider implements events.TokenProvider for a shipper
// pointed at a collector URL outside of a bootstrap-token flow.
type staticTokenProvider struct {
	token   string
	logsURL string
}

func (s staticTokenProvider) GetToken() string   { return s.token }
func (s staticTokenProvider) GetLogsURL() string { return s.logsURL }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "prefixsetctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  prefixsetctl build <list-file>
  prefixsetctl check <list-file> <address>
  prefixsetctl serve <list-file-or-url> <addr:port> [flags]`)
}

func openSource(path string) listsource.Source {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return &listsource.HTTPSource{URL: path}
	}
	return &listsource.FileSource{Path: path}
}

func buildFrom(path string) (*prefixset.Set, *prefixset.Set, error) {
	src := openSource(path)
	body, err := src.Fetch(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	defer body.Close()

	v4 := prefixset.NewV4()
	v6 := prefixset.NewV6()
	if err := cidrtext.Load(body, v4, v6); err != nil {
		fmt.Fprintln(os.Stderr, "prefixsetctl: warning:", err)
	}
	return v4.Build(), v6.Build(), nil
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("build requires exactly one list file argument")
	}

	setV4, setV6, err := buildFrom(fs.Arg(0))
	if err != nil {
		return err
	}

	fmt.Printf("ipv4: nodes=%d passes=%d bytes=%d\n", setV4.Stats().Nodes, setV4.Stats().Passes, setV4.Stats().BufferLen)
	fmt.Printf("ipv6: nodes=%d passes=%d bytes=%d\n", setV6.Stats().Nodes, setV6.Stats().Passes, setV6.Stats().BufferLen)
	return nil
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		return fmt.Errorf("check requires a list file and an address")
	}

	addr, err := netip.ParseAddr(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("parsing address %q: %w", fs.Arg(1), err)
	}

	setV4, setV6, err := buildFrom(fs.Arg(0))
	if err != nil {
		return err
	}

	var contained bool
	if addr.Is4() || addr.Is4In6() {
		contained = setV4.Contains(addr.Unmap())
	} else {
		contained = setV6.Contains(addr)
	}

	if contained {
		fmt.Println("contained")
	} else {
		fmt.Println("not contained")
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	mode := fs.String("mode", "block", `"block" or "allow"`)
	refresh := fs.Duration("refresh", 5*time.Minute, "how often to reload the list")
	ipStrategy := fs.String("ip-strategy", "direct", `"direct", "xff", "real-ip", or "custom"`)
	customHeader := fs.String("trusted-header", "", "header name when -ip-strategy=custom")
	trustedProxies := fs.String("trusted-proxies", "", "comma-separated trusted proxy CIDRs/IPs/keywords")
	logLevel := fs.String("log-level", "info", "trace, debug, info, warn, or error")
	bootstrapToken := fs.String("bootstrap-token", "", "bootstrap token; when set, the list source argument is ignored")
	machineID := fs.String("machine-id", "", "machine identifier reported during bootstrap (random if empty)")
	collectorURL := fs.String("collector-url", "", "collector URL to ship block events to; shipping is disabled if empty")
	collectorToken := fs.String("collector-token", "", "bearer token for -collector-url (ignored when -bootstrap-token supplies one)")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("serve requires a list source and a listen address")
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	runID := utils.GenerateUUID()
	logger.Infof("starting serve run %s", runID)

	guardMode := guard.Blocklist
	if *mode == "allow" {
		guardMode = guard.Allowlist
	} else if *mode != "block" {
		return fmt.Errorf("invalid -mode %q", *mode)
	}

	strategy, err := parseIPStrategy(*ipStrategy)
	if err != nil {
		return err
	}

	var proxies []string
	if *trustedProxies != "" {
		proxies = strings.Split(*trustedProxies, ",")
	}

	store := guard.NewStore()

	deviceID := *machineID
	if deviceID == "" {
		deviceID = utils.GenerateMachineID()
	}

	var source listsource.Source
	var bootstrapSource *listsource.BootstrapSource
	if *bootstrapToken != "" {
		bootstrapSource = listsource.NewBootstrapSource(*bootstrapToken, deviceID, "prefixsetctl")
		source = bootstrapSource
	} else {
		source = openSource(fs.Arg(0))
	}
	refresher := listsource.NewRefresher(source, store, *refresh)

	if *bootstrapToken != "" {
		logger.Info("loading initial prefix list via bootstrap token")
	} else {
		logger.Infof("loading initial prefix list from %s", fs.Arg(0))
	}
	if err := refresher.Start(context.Background()); err != nil {
		return fmt.Errorf("initial load failed: %w", err)
	}
	logger.Infof("loaded %d prefixes", store.Count())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go refresher.Run(ctx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			logger.Infof("store size: %d prefixes", store.Count())
		}
	}()

	backend := http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		fmt.Fprintln(rw, "ok")
	})

	opts := []guard.Option{guard.WithIPStrategy(strategy, *customHeader, proxies)}

	var sink *events.Shipper
	switch {
	case bootstrapSource != nil:
		sink = events.NewShipper(bootstrapSource, &events.ShipperConfig{})
	case *collectorURL != "":
		sink = events.NewShipper(staticTokenProvider{token: *collectorToken, logsURL: *collectorURL}, &events.ShipperConfig{})
	}
	if sink != nil {
		sink.SetBatchMetadata(&events.BatchMetadata{
			DeviceID:       deviceID,
			IPStrategy:     *ipStrategy,
			TrustedHeader:  *customHeader,
			TrustedProxies: proxies,
		})
		sink.Start()
		defer sink.Stop()
		policyMode := "blocklist"
		if guardMode == guard.Allowlist {
			policyMode = "allowlist"
		}
		opts = append(opts, guard.WithEventSink(sink, policyMode))
		logger.Info("shipping block events to collector")
	}

	g := guard.New(backend, store, guardMode, opts...)

	addr := fs.Arg(1)
	logger.Infof("serving on %s in %s mode", addr, *mode)
	return http.ListenAndServe(addr, g)
}

func parseIPStrategy(s string) (guard.IPStrategy, error) {
	switch s {
	case "direct":
		return guard.Direct, nil
	case "xff":
		return guard.XFF, nil
	case "real-ip":
		return guard.RealIP, nil
	case "custom":
		return guard.Custom, nil
	default:
		return 0, fmt.Errorf("invalid ip-strategy %q", s)
	}
}
