package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/oldschoolag/Faivr"
	"github.com/oldschoolag/Faivr/internal"
	libfaivr "github.com/oldschoolag/Faivr/lib"
	"github.com/oldschoolag/Faivr/lib/config"
	"github.com/oldschoolag/Faivr/lib/localization"
	"github.com/oldschoolag/Faivr/lib/ratelimit"
	"github.com/oldschoolag/Faivr/lib/store"
	"github.com/oldschoolag/Faivr/lib/support"
	"github.com/oldschoolag/Faivr/lib/support/learnings"
	"github.com/oldschoolag/Faivr/lib/support/llm"
	"github.com/oldschoolag/Faivr/lib/verify"
	"github.com/oldschoolag/Faivr/lib/verify/dnstxt"
	"github.com/oldschoolag/Faivr/lib/verify/social"
	"github.com/oldschoolag/Faivr/lib/verify/wellknown"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	adminJWTSecret     = flag.String("admin-jwt-secret", "", "HS512 secret for admin bearer tokens, leaving it unset leaves the admin endpoints open")
	basePrefix         = flag.String("base-prefix", "", "base prefix (root URL) the application is served under e.g. /faivr")
	bind               = flag.String("bind", ":3001", "network address to bind HTTP to")
	bindNetwork        = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	completionProvider = flag.String("completion-provider", "", "support chat completion provider (openai, gemini), overrides the config file")
	configFname        = flag.String("config-fname", "", "full path to the FAIVR config document (defaults to built-in settings)")
	forcedLanguage     = flag.String("forced-language", "", "if set, this language is being used instead of the one from the request's Accept-Language header")
	healthcheck        = flag.Bool("healthcheck", false, "run a health check against a running FAIVR server")
	knowledgeFname     = flag.String("knowledge-fname", "", "full path to the support knowledge base, overrides the config file")
	metricsBind        = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	rateLimitExempt    = flag.String("rate-limit-exempt", "", "comma separated CIDRs that are never rate limited, added to the config file's list")
	signAdminToken     = flag.String("sign-admin-token", "", "if set, print an admin bearer token for this subject and exit")
	signAdminTokenTTL  = flag.Duration("sign-admin-token-ttl", 24*time.Hour, "lifetime of tokens minted with sign-admin-token")
	slogLevel          = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	socketMode         = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	storeBackend       = flag.String("store-backend", "", "challenge store backend (memory, bbolt, valkey), overrides the config file")
	storeParameters    = flag.String("store-parameters", "", "JSON parameters for the challenge store backend, overrides the config file")
	supportDataDir     = flag.String("support-data-dir", "", "directory holding support feedback and custom answers, overrides the config file")
	useRemoteAddress   = flag.Bool("use-remote-address", false, "read the client's IP address from the network request, useful for debugging and running FAIVR on bare metal")
	versionFlag        = flag.Bool("version", false, "print FAIVR version")
)

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + faivr.BasePrefix + "/metrics")
	if err != nil {
		return fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :3001
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			if err := listener.Close(); err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

// loadConfig reads the config file, if any, and applies command line
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()

	if *configFname != "" {
		var err error
		cfg, err = config.LoadFile(*configFname)
		if err != nil {
			return nil, err
		}
	}

	if *storeBackend != "" {
		cfg.Store.Backend = *storeBackend
		cfg.Store.Parameters = nil
	}

	if *storeParameters != "" {
		cfg.Store.Parameters = json.RawMessage(*storeParameters)
	}

	if *knowledgeFname != "" {
		cfg.Support.KnowledgeFile = *knowledgeFname
	}

	if *supportDataDir != "" {
		cfg.Support.DataDir = *supportDataDir
	}

	if *completionProvider != "" {
		cfg.Support.Completion.Provider = config.Provider(*completionProvider)
	}

	if *rateLimitExempt != "" {
		for _, cidr := range strings.Split(*rateLimitExempt, ",") {
			cfg.RateLimit.Exempt = append(cfg.RateLimit.Exempt, strings.TrimSpace(cidr))
		}
	}

	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// makeCompleter builds the configured completion client. API keys come from
// OPENAI_API_KEY and GEMINI_API_KEY; with neither set support chat runs on
// the keyword matcher alone.
func makeCompleter(ctx context.Context, c config.Completion) (llm.Completer, error) {
	provider := c.Provider
	if provider == config.ProviderNone {
		switch {
		case os.Getenv("OPENAI_API_KEY") != "":
			provider = config.ProviderOpenAI
		case os.Getenv("GEMINI_API_KEY") != "":
			provider = config.ProviderGemini
		default:
			return nil, nil
		}
	}

	switch provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: c.BaseURL,
			Model:   c.Model,
			Client:  &http.Client{Timeout: c.Timeout.D()},
		})
	case config.ProviderGemini:
		return llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			BaseURL: c.BaseURL,
			Model:   c.Model,
		})
	}

	return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, provider)
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("FAIVR", faivr.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *signAdminToken != "" {
		if *adminJWTSecret == "" {
			log.Fatal("sign-admin-token needs ADMIN_JWT_SECRET")
		}

		token, err := libfaivr.SignAdminToken([]byte(*adminJWTSecret), *signAdminToken, *signAdminTokenTTL)
		if err != nil {
			log.Fatalf("can't sign admin token: %v", err)
		}

		fmt.Println(token)
		return
	}

	if *basePrefix != "" && !strings.HasPrefix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must start with a slash, eg: /%s", *basePrefix)
	} else if strings.HasSuffix(*basePrefix, "/") {
		log.Fatalf("[misconfiguration] base-prefix must not end with a slash")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("can't load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	challengeStore, err := store.Build(ctx, cfg.Store.Backend, cfg.Store.Parameters)
	if err != nil {
		log.Fatalf("can't build %s challenge store: %v", cfg.Store.Backend, err)
	}

	verifier, err := verify.New(verify.Options{
		Store: challengeStore,
		Checkers: map[verify.Method]verify.Checker{
			verify.MethodDNS:    dnstxt.New(dnstxt.Options{Timeout: cfg.Verify.CheckTimeout.D()}),
			verify.MethodFile:   wellknown.New(wellknown.Options{Timeout: cfg.Verify.CheckTimeout.D()}),
			verify.MethodSocial: social.Checker{},
		},
		Expiry: cfg.Verify.Expiry.D(),
	})
	if err != nil {
		log.Fatalf("can't construct verifier: %v", err)
	}

	kb, err := support.LoadKnowledgeFile(cfg.Support.KnowledgeFile)
	if err != nil {
		log.Fatalf("can't load knowledge base: %v", err)
	}

	completer, err := makeCompleter(ctx, cfg.Support.Completion)
	if err != nil {
		log.Fatalf("can't set up completion provider: %v", err)
	}

	completerName := "none"
	if completer != nil {
		completerName = completer.Name()
	}

	ls := learnings.New(cfg.Support.DataDir)

	responder, err := support.NewResponder(support.Options{
		Knowledge: kb,
		Completer: completer,
		Custom:    ls,
		Timeout:   cfg.Support.Completion.Timeout.D(),
	})
	if err != nil {
		log.Fatalf("can't construct support responder: %v", err)
	}

	limiter, err := ratelimit.New(ctx, ratelimit.Options{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window.D(),
		Exempt: cfg.RateLimit.Exempt,
	})
	if err != nil {
		log.Fatalf("can't construct rate limiter: %v", err)
	}

	if *adminJWTSecret == "" {
		slog.Warn("ADMIN_JWT_SECRET is not set, feedback listing and custom answers are open to anyone who can reach this server")
	}

	localization.ForcedLanguage = *forcedLanguage

	s, err := libfaivr.New(libfaivr.Options{
		Verifier:    verifier,
		Responder:   responder,
		Learnings:   ls,
		RateLimiter: limiter,
		AdminSecret: []byte(*adminJWTSecret),
		BasePrefix:  *basePrefix,
	})
	if err != nil {
		log.Fatalf("can't construct libfaivr.Server: %v", err)
	}

	wg := new(sync.WaitGroup)

	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	var h http.Handler
	h = s
	h = internal.RemoteXRealIP(*useRemoteAddress, *bindNetwork, h)
	h = internal.XForwardedForToXRealIP(h)

	srv := http.Server{Handler: h, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", faivr.Version,
		"store-backend", cfg.Store.Backend,
		"challenge-expiry", cfg.Verify.Expiry.D(),
		"completer", completerName,
		"support-data-dir", cfg.Support.DataDir,
		"rate-limit", cfg.RateLimit.Limit,
		"rate-limit-window", cfg.RateLimit.Window.D(),
		"use-remote-address", *useRemoteAddress,
		"base-prefix", *basePrefix,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle(faivr.BasePrefix+"/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
