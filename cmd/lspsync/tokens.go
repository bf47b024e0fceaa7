package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/lucacox/go-lspsync/pkg/client"
	"github.com/lucacox/go-lspsync/pkg/features/semantictokens"
	"github.com/lucacox/go-lspsync/pkg/registration"
)

var (
	tokensLanguage string
	tokensLines    string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens <file>",
	Short: "Print the semantic tokens of a file",
	Long: `Starts the configured language service, opens the file and prints the
semantic tokens the service reports for it, one per line.`,
	Args: cobra.ExactArgs(1),
	RunE: runTokens,
}

func init() {
	tokensCmd.Flags().StringVarP(&tokensLanguage, "language", "l", "", "language id of the file (default: file extension)")
	tokensCmd.Flags().StringVar(&tokensLines, "lines", "", "only tokens of the line range first:last, zero based")
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(cmd *cobra.Command, args []string) error {
	cfg, lf, closeLog, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var rng *lsp.Range
	if tokensLines != "" {
		var first, last uint32
		if _, err := fmt.Sscanf(tokensLines, "%d:%d", &first, &last); err != nil || last < first {
			return fmt.Errorf("invalid --lines %q, want first:last", tokensLines)
		}
		rng = &lsp.Range{Start: lsp.Position{Line: first}, End: lsp.Position{Line: last, Character: 1 << 31}}
	}

	language := tokensLanguage
	if language == "" {
		language = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	doc := registration.DocumentInfo{URI: uri.File(path), LanguageID: language}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	options := []client.ClientOption{
		client.WithConfig(cfg),
		client.WithLoggerFactory(lf),
		client.WithTransportRegistry(transportRegistry),
		client.WithResourceChanges(false),
	}
	if cfg.Server.RootURI == "" {
		options = append(options, client.WithRootURI(lsp.DocumentURI(uri.File(filepath.Dir(path)))))
	}

	c, err := client.NewClientWithTransport(ctx, options...)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Shutdown(context.WithoutCancel(ctx))
	}()

	if err := c.Initialize(ctx); err != nil {
		return err
	}
	if err := c.OpenDocument(ctx, doc, 1, string(text)); err != nil {
		return err
	}

	var tokens []semantictokens.Token
	if rng != nil {
		tokens, err = c.RangeTokens(ctx, doc, *rng)
	} else {
		tokens, err = c.Tokens(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("semantic tokens: %w", err)
	}

	for _, tok := range tokens {
		line := fmt.Sprintf("%d:%d\t%d\t%s", tok.Line+1, tok.Start+1, tok.Length, tok.Type)
		if len(tok.Modifiers) > 0 {
			line += "\t" + strings.Join(tok.Modifiers, ",")
		}
		cmd.Println(line)
	}
	return nil
}
