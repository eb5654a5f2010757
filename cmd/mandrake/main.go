// Command mandrake is an open-source machine code analyzer / instrumenter.
//
// Two subcommands, "code" and "elf", share a set of global flags for snippet
// length, string detection threshold, instruction cap, and output-stream
// capture. A third, "serve", exposes a read-only query API over a trace
// archive.
package main

import (
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/counterhack/mandrake/internal/api"
	"github.com/counterhack/mandrake/internal/archive"
	"github.com/counterhack/mandrake/internal/config"
	"github.com/counterhack/mandrake/internal/engine"
	"github.com/counterhack/mandrake/internal/trace"
	"github.com/counterhack/mandrake/internal/visibility"
)

func main() {
	app := &cli.App{
		Name:  "mandrake",
		Usage: "single-step x86-64 Linux machine code and capture a structured trace",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML configuration file providing defaults for the flags below"},
			&cli.StringFlag{Name: "output-format", Aliases: []string{"o"}, Value: "json", Usage: "JSON, YAML, or Plaintext"},
			&cli.IntFlag{Name: "snippet-length", Aliases: []string{"s"}, Value: 64, Usage: "amount of context memory to read"},
			&cli.IntFlag{Name: "minimum-viable-string", Aliases: []string{"m"}, Value: 6, Usage: "memory is treated as a string only when its NUL-terminated prefix is longer than this many bytes"},
			&cli.IntFlag{Name: "max-instructions", Aliases: []string{"i"}, Value: 1024, Usage: "stop after this many executed instructions"},
			&cli.BoolFlag{Name: "ignore-stdout", Usage: "don't capture stdout"},
			&cli.BoolFlag{Name: "ignore-stderr", Usage: "don't capture stderr"},
			&cli.BoolFlag{Name: "follow-exec-syscalls", Usage: "follow exec syscalls (not implemented; accepted for compatibility)"},
			&cli.StringFlag{Name: "archive", Usage: "path to a SQLite database to archive this trace into"},
		},
		Commands: []*cli.Command{
			codeCommand(),
			elfCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Execution failed: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds a slog.Logger at the given minimum level: a JSON handler
// on stderr, with "info" as the fallback for unrecognized levels.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// loggerFromConfig builds the operational logger at cfg's configured level,
// or the default level if no config file was loaded.
func loggerFromConfig(cfg *config.Config) *slog.Logger {
	if cfg == nil {
		return newLogger("")
	}
	return newLogger(cfg.LogLevel)
}

// loadConfig loads the YAML config named by the global --config flag, if
// set. It returns nil, nil when no config file was requested, so callers can
// treat config values purely as optional overrides of the flags' own
// defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

func codeCommand() *cli.Command {
	return &cli.Command{
		Name:  "code",
		Usage: "analyze raw machine code using a harness",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "harness", Value: "./harness/harness", Usage: "path to the execution harness"},
			&cli.BoolFlag{Name: "show-everything", Usage: "don't hide instructions executed outside of the harness"},
		},
		ArgsUsage: "<code-hex>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("the code argument (a hex string) is required", 1)
			}
			code, err := hex.DecodeString(c.Args().First())
			if err != nil {
				return fmt.Errorf("could not decode hex: %w", err)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := loggerFromConfig(cfg)

			harnessPath := c.String("harness")
			if !c.IsSet("harness") && cfg != nil && cfg.Harness != "" {
				harnessPath = cfg.Harness
			}

			logger.Info("analyzing code", slog.String("harness", harnessPath), slog.Int("code_len", len(code)))

			e := engineFromContext(c, cfg)
			out, err := e.AnalyzeCode(code, harnessPath, c.Bool("show-everything"))
			if err != nil {
				logger.Error("analyze_code failed", slog.Any("error", err))
				return err
			}
			return emit(c, cfg, out)
		},
	}
}

func elfCommand() *cli.Command {
	return &cli.Command{
		Name:  "elf",
		Usage: "analyze an ELF file (Linux executable)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "stdin-data", Usage: "standard input, encoded as hex (e.g. \"4141414141\")"},
			&cli.StringFlag{Name: "hidden-address", Usage: "hide instructions at this address (hex)"},
			&cli.StringFlag{Name: "hidden-mask", Usage: "mask ANDed with each instruction address before comparing it to hidden-address, default 0xFFFFFFFFFFFF0000"},
			&cli.StringFlag{Name: "visible-address", Usage: "only show instructions at this address (hex)"},
			&cli.StringFlag{Name: "visible-mask", Usage: "mask ANDed with each instruction address before comparing it to visible-address, default 0xFFFFFFFFFFFF0000"},
		},
		ArgsUsage: "<elf-path> [args...]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("the elf path argument is required", 1)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := loggerFromConfig(cfg)

			var stdin []byte
			if s := c.String("stdin-data"); s != "" {
				decoded, err := hex.DecodeString(s)
				if err != nil {
					return fmt.Errorf("could not parse --stdin-data as a hex string: %w", err)
				}
				stdin = decoded
			}

			vis, err := visibilityFromFlags(c, cfg)
			if err != nil {
				return err
			}

			logger.Info("analyzing elf", slog.String("path", c.Args().First()))

			e := engineFromContext(c, cfg)
			out, err := e.AnalyzeElf(c.Args().First(), stdin, c.Args().Tail(), vis)
			if err != nil {
				logger.Error("analyze_elf failed", slog.Any("error", err))
				return err
			}
			return emit(c, cfg, out)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the read-only REST query API over a trace archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen-addr", Value: "127.0.0.1:8420"},
			&cli.StringFlag{Name: "archive", Value: "mandrake.db", Usage: "path to the SQLite trace archive"},
			&cli.StringFlag{Name: "jwt-public-key", Usage: "path to a PEM RSA public key; when set, requests to /api/v1 must carry a matching RS256 Bearer token"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := loggerFromConfig(cfg)

			archivePath := c.String("archive")
			listenAddr := c.String("listen-addr")
			jwtKeyPath := c.String("jwt-public-key")
			if cfg != nil {
				if !c.IsSet("archive") && cfg.Archive.Path != "" {
					archivePath = cfg.Archive.Path
				}
				if !c.IsSet("listen-addr") && cfg.API.ListenAddr != "" {
					listenAddr = cfg.API.ListenAddr
				}
				if !c.IsSet("jwt-public-key") && cfg.API.JWTPublicKey != "" {
					jwtKeyPath = cfg.API.JWTPublicKey
				}
			}

			store, err := archive.Open(archivePath)
			if err != nil {
				logger.Error("failed to open trace archive", slog.String("path", archivePath), slog.Any("error", err))
				return err
			}
			defer store.Close()
			logger.Info("trace archive opened", slog.String("path", archivePath))

			var pubKey *rsa.PublicKey
			if jwtKeyPath != "" {
				pubKey, err = api.LoadRSAPublicKey(jwtKeyPath)
				if err != nil {
					return err
				}
				logger.Info("JWT authentication enabled", slog.String("public_key", jwtKeyPath))
			} else {
				logger.Warn("serving the query API without JWT authentication")
			}

			srv := api.NewServer(store)
			router := api.NewRouter(srv, pubKey)

			logger.Info("listening", slog.String("addr", listenAddr))
			return runHTTPServer(listenAddr, router)
		},
	}
}

func runHTTPServer(addr string, handler http.Handler) error {
	return http.ListenAndServe(addr, handler)
}

func engineFromContext(c *cli.Context, cfg *config.Config) *engine.Engine {
	snippetLength := c.Int("snippet-length")
	minViableString := c.Int("minimum-viable-string")
	maxInstructions := c.Int("max-instructions")
	captureStdout := !c.Bool("ignore-stdout")
	captureStderr := !c.Bool("ignore-stderr")

	if cfg != nil {
		if !c.IsSet("snippet-length") {
			snippetLength = cfg.SnippetLength
		}
		if !c.IsSet("minimum-viable-string") {
			minViableString = cfg.MinimumViableString
		}
		if !c.IsSet("max-instructions") {
			maxInstructions = cfg.MaxInstructions
		}
		if !c.IsSet("ignore-stdout") && cfg.CaptureStdout != nil {
			captureStdout = *cfg.CaptureStdout
		}
		if !c.IsSet("ignore-stderr") && cfg.CaptureStderr != nil {
			captureStderr = *cfg.CaptureStderr
		}
	}

	return engine.New(snippetLength, minViableString, maxInstructions, captureStdout, captureStderr)
}

func visibilityFromFlags(c *cli.Context, cfg *config.Config) (visibility.Configuration, error) {
	vis := visibility.Full()
	if cfg != nil && cfg.Visibility.Preset == "harness" {
		vis = visibility.Harness()
	}

	if cfg != nil {
		if cfg.Visibility.HiddenAddress != nil {
			vis.HiddenAddress = cfg.Visibility.HiddenAddress
		}
		if cfg.Visibility.HiddenMask != nil {
			vis.HiddenMask = cfg.Visibility.HiddenMask
		}
		if cfg.Visibility.VisibleAddress != nil {
			vis.VisibleAddress = cfg.Visibility.VisibleAddress
		}
		if cfg.Visibility.VisibleMask != nil {
			vis.VisibleMask = cfg.Visibility.VisibleMask
		}
	}

	if v := c.String("hidden-address"); v != "" {
		addr, err := parseHex(v)
		if err != nil {
			return vis, fmt.Errorf("hidden-address: %w", err)
		}
		vis.HiddenAddress = &addr
	}
	if v := c.String("hidden-mask"); v != "" {
		mask, err := parseHex(v)
		if err != nil {
			return vis, fmt.Errorf("hidden-mask: %w", err)
		}
		vis.HiddenMask = &mask
	}
	if v := c.String("visible-address"); v != "" {
		addr, err := parseHex(v)
		if err != nil {
			return vis, fmt.Errorf("visible-address: %w", err)
		}
		vis.VisibleAddress = &addr
	}
	if v := c.String("visible-mask"); v != "" {
		mask, err := parseHex(v)
		if err != nil {
			return vis, fmt.Errorf("visible-mask: %w", err)
		}
		vis.VisibleMask = &mask
	}

	return vis, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

func emit(c *cli.Context, cfg *config.Config, out trace.Output) error {
	archivePath := c.String("archive")
	if !c.IsSet("archive") && cfg != nil && cfg.Archive.Enabled && cfg.Archive.Path != "" {
		archivePath = cfg.Archive.Path
	}
	if archivePath != "" {
		store, err := archive.Open(archivePath)
		if err != nil {
			return err
		}
		defer store.Close()
		if _, err := store.Store(c.Context, out); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.String("output-format")) {
	case "yaml":
		data, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "plaintext", "text":
		printPlaintext(out)
	default:
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return nil
}

func printPlaintext(out trace.Output) {
	for _, entry := range out.History {
		if rip, ok := entry.RIP(); ok {
			fmt.Printf("0x%08x\n", rip.Value)
		} else {
			fmt.Fprintln(os.Stderr, "Missing rip in entry")
		}
	}

	if out.Stdout != nil && *out.Stdout != "" {
		fmt.Println()
		fmt.Printf("Stdout: %s\n", *out.Stdout)
	}
	if out.Stderr != nil && *out.Stderr != "" {
		fmt.Println()
		fmt.Printf("stderr: %s\n", *out.Stderr)
	}
}
