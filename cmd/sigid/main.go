// Command sigid identifies file formats by byte signature.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	json "github.com/goccy/go-json"

	"github.com/FocuswithJustin/sigid/core/bytesource"
	"github.com/FocuswithJustin/sigid/core/catalog"
	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/identify"
	"github.com/FocuswithJustin/sigid/core/sequence"
	"github.com/FocuswithJustin/sigid/internal/batch"
	"github.com/FocuswithJustin/sigid/internal/config"
	"github.com/FocuswithJustin/sigid/internal/ingest"
	"github.com/FocuswithJustin/sigid/internal/logging"
	"github.com/FocuswithJustin/sigid/internal/output"
)

const version = "0.1.0"

// stdout receives command results. Logs go to stderr.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface for sigid.
var CLI struct {
	Identify IdentifyCmd  `cmd:"" help:"Identify the formats of files"`
	Catalog  CatalogGroup `cmd:"" help:"Signature catalog operations"`
	Match    MatchCmd     `cmd:"" help:"Search one file for a single byte sequence"`
	Version  VersionCmd   `cmd:"" help:"Print version information"`
}

// CatalogGroup contains catalog inspection commands.
type CatalogGroup struct {
	Info  CatalogInfoCmd  `cmd:"" help:"Summarise a signature catalog"`
	Check CatalogCheckCmd `cmd:"" help:"Load a catalog and report signature warnings"`
}

// CatalogFlags locate the configuration and the signature catalog.
type CatalogFlags struct {
	Config     string `help:"YAML configuration file (defaults to $SIGID_CONFIG)" type:"path" short:"c"`
	Signatures string `help:"DROID signature file or YAML catalog" type:"path" short:"s"`
	LogLevel   string `name:"log-level" help:"Log level: debug, info, warn or error"`
}

// setup loads configuration, applies the logging section and returns the
// merged config.
func (f *CatalogFlags) setup() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.Config != "" {
		cfg, err = config.LoadFile(f.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.Signatures != "" {
		cfg.Signatures.Path = f.Signatures
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := logging.ParseLevel(cfg.Logging.Level)
	format, _ := logging.ParseFormat(cfg.Logging.Format)
	logging.InitLogger(level, format)
	return cfg, nil
}

// loadCatalog loads the configured catalog and logs its warnings.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Signatures.Path == "" {
		return nil, errors.NewValidation("signatures", "no signature file given; use --signatures or signatures.path")
	}
	start := time.Now()
	c, err := catalog.LoadFile(cfg.Signatures.Path)
	if err != nil {
		return nil, err
	}
	logging.CatalogLoaded(c.Source(), c.Version(), len(c.Formats()), c.Len(), time.Since(start))
	for _, w := range c.Warnings() {
		logging.SignatureWarning(w.SignatureID, w.Message)
	}
	return c, nil
}

// IdentifyCmd identifies files.
type IdentifyCmd struct {
	CatalogFlags `embed:""`

	Paths      []string `arg:"" help:"Files to identify" type:"path"`
	MaxMatches int      `name:"max-matches" help:"Stop after this many certain matches (0 is unlimited, -1 uses the config)" default:"-1"`
	MaxBytes   int64    `name:"max-bytes" help:"Scan at most this many bytes from each end (0 is unlimited, -1 uses the config)" default:"-1"`
	Extensions string   `help:"Extension fallback: none, tentative or all"`
	Hash       bool     `help:"Report the BLAKE3 digest of every file"`
	Decompress bool     `help:"Identify the content of .gz, .xz, .zst and .lz4 files"`
	Workers    int      `help:"Maximum concurrent identifications (0 uses the config)"`
	Queue      int      `help:"Pending identifications held before submission blocks (-1 uses the config)" default:"-1"`
	Output     string   `help:"Output format: json, csv or text" short:"o" default:"text" enum:"json,csv,text"`
}

func (c *IdentifyCmd) Run() error {
	cfg, err := c.setup()
	if err != nil {
		return err
	}
	c.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	opts, err := cfg.IdentifyOptions()
	if err != nil {
		return err
	}
	sched, err := cfg.SchedulerConfig()
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(c.Output)
	if err != nil {
		return err
	}
	w, err := output.New(format, stdout)
	if err != nil {
		return err
	}

	reqs, err := c.requests()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner, err := batch.New(identify.New(cat, opts), sched, batch.Options{
		Ingest: ingest.Options{Source: cfg.SourceOptions(), Decompress: cfg.Identification.Decompress},
		Hash:   cfg.Identification.Hash,
	})
	if err != nil {
		return err
	}

	failed := 0
	for o := range runner.Run(ctx, reqs) {
		if o.Err != nil {
			failed++
		}
		if err := w.Write(o); err != nil {
			failed++
			logging.Error("write_failed", "resource", o.Request.Path, "error", err.Error())
		}
	}
	errs := []error{w.Close(), runner.Close(context.Background())}
	if failed > 0 {
		errs = append(errs, fmt.Errorf("%d of %d resources could not be identified", failed, len(reqs)))
	}
	return errors.Join(errs...)
}

// apply overrides the config with flags that were given.
func (c *IdentifyCmd) apply(cfg *config.Config) {
	if c.MaxMatches >= 0 {
		cfg.Identification.MaxMatches = c.MaxMatches
	}
	if c.MaxBytes >= 0 {
		cfg.Identification.MaxBytesToScan = c.MaxBytes
	}
	if c.Extensions != "" {
		cfg.Identification.Extensions = c.Extensions
	}
	cfg.Identification.Hash = cfg.Identification.Hash || c.Hash
	cfg.Identification.Decompress = cfg.Identification.Decompress || c.Decompress
	if c.Workers > 0 {
		cfg.Scheduler.MaxWorkers = c.Workers
		if cfg.Scheduler.CoreWorkers > c.Workers {
			cfg.Scheduler.CoreWorkers = c.Workers
		}
	}
	if c.Queue >= 0 {
		cfg.Scheduler.QueueCapacity = c.Queue
	}
}

// requests maps every path to one request. Paths are not expanded;
// directories and missing files fail as individual outcomes.
func (c *IdentifyCmd) requests() ([]batch.Request, error) {
	if len(c.Paths) == 0 {
		return nil, errors.NewValidation("paths", "at least one path is required")
	}
	reqs := make([]batch.Request, len(c.Paths))
	for i, p := range c.Paths {
		reqs[i] = batch.Request{Path: p}
	}
	return reqs, nil
}

// CatalogInfoCmd prints a catalog summary.
type CatalogInfoCmd struct {
	CatalogFlags `embed:""`

	JSON bool `help:"Output as JSON"`
}

type catalogInfo struct {
	Source     string `json:"source"`
	Version    string `json:"version"`
	Formats    int    `json:"formats"`
	Signatures int    `json:"signatures"`
	Warnings   int    `json:"warnings"`
	Tentative  int    `json:"extension_only_formats"`
}

func (c *CatalogInfoCmd) Run() error {
	cfg, err := c.setup()
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	info := catalogInfo{
		Source:     cat.Source(),
		Version:    cat.Version(),
		Formats:    len(cat.Formats()),
		Signatures: cat.Len(),
		Warnings:   len(cat.Warnings()),
	}
	for _, f := range cat.Formats() {
		if !f.HasSignatures() && len(f.Extensions) > 0 {
			info.Tentative++
		}
	}

	if c.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintf(stdout, "Catalog:    %s\n", info.Source)
	fmt.Fprintf(stdout, "Version:    %s\n", info.Version)
	fmt.Fprintf(stdout, "Formats:    %d (%d by extension only)\n", info.Formats, info.Tentative)
	fmt.Fprintf(stdout, "Signatures: %d\n", info.Signatures)
	fmt.Fprintf(stdout, "Warnings:   %d\n", info.Warnings)
	return nil
}

// CatalogCheckCmd validates a catalog and lists its warnings.
type CatalogCheckCmd struct {
	CatalogFlags `embed:""`

	Strict bool `help:"Fail when the catalog has warnings"`
}

func (c *CatalogCheckCmd) Run() error {
	cfg, err := c.setup()
	if err != nil {
		return err
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	warnings := cat.Warnings()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "%s: %s\n", w.SignatureID, w.Message)
	}
	fmt.Fprintf(stdout, "%s: %d signatures, %d warnings\n", cat.Source(), cat.Len(), len(warnings))
	if c.Strict && len(warnings) > 0 {
		return fmt.Errorf("catalog has %d warnings", len(warnings))
	}
	return nil
}

// MatchCmd searches a file for one sequence expression.
type MatchCmd struct {
	Expr     string `arg:"" help:"Sequence expression, e.g. '%PDF-'{0-8}0A"`
	Path     string `arg:"" help:"File to search" type:"existingfile"`
	Anchor   string `help:"Anchor: bof, eof or var" default:"bof" enum:"bof,eof,var"`
	MaxBytes int64  `name:"max-bytes" help:"Scan at most this many bytes from the anchored end (0 is unlimited)"`
}

func (c *MatchCmd) Run() error {
	anchor, err := sequence.ParseAnchor(c.Anchor)
	if err != nil {
		return err
	}
	seq, err := sequence.Parse(anchor, c.Expr)
	if err != nil {
		return err
	}
	plan, err := sequence.Compile(seq)
	if err != nil {
		return err
	}
	src, err := bytesource.Open(c.Path, bytesource.DefaultOptions())
	if err != nil {
		return err
	}
	defer src.Close()

	span, ok, err := plan.Search(src, c.MaxBytes)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(stdout, "%s: no match for %s\n", c.Path, plan)
		return nil
	}
	fmt.Fprintf(stdout, "%s: %s matched at %d-%d\n", c.Path, plan, span.Start, span.End)
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Fprintf(stdout, "sigid version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("sigid"),
		kong.Description("Byte signature file format identification"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
