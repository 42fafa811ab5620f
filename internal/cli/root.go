// Package cli реализует команды catalogctl поверх syncclient.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	"github.com/vladislavdragonenkov/jewelry/internal/syncclient"
)

const (
	defaultBaseURL = "http://localhost:8080"
	defaultTimeout = 15 * time.Second
)

// RootOptions: глобальные флаги всех команд.
type RootOptions struct {
	BaseURL string
	Verbose bool
	Timeout time.Duration

	// httpClient подменяется в тестах.
	httpClient *http.Client
}

// NewRootCommand создаёт корневую команду catalogctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "catalogctl - управление порядком справочников",
		Long: `Клиент REST API справочников ювелирного производства.

Позволяет просматривать мастера, подкатегории, сырьё, причины отбраковки и
этапы производства, переставлять элементы и загружать справочники из YAML.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", defaultBaseURL, "base URL of the catalog service")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", defaultTimeout, "request timeout")

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newMoveCommand(opts))
	cmd.AddCommand(newResequenceCommand(opts))
	cmd.AddCommand(newAddCommand(opts))
	cmd.AddCommand(newRemoveCommand(opts))
	cmd.AddCommand(newRenameCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// logger пишет в stderr команды, чтобы не смешиваться с выводом --json.
func (o *RootOptions) logger(cmd *cobra.Command) *log.Entry {
	l := log.New()
	l.SetOutput(cmd.ErrOrStderr())
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	l.SetLevel(log.WarnLevel)
	if o.Verbose {
		l.SetLevel(log.DebugLevel)
	}
	return l.WithField("component", "catalogctl")
}

func (o *RootOptions) client(cmd *cobra.Command) (*syncclient.Client, error) {
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.Timeout}
	}
	return syncclient.NewClient(o.BaseURL,
		syncclient.WithHTTPClient(httpClient),
		syncclient.WithClientLogger(o.logger(cmd)),
	)
}

func parseKind(arg string) (domain.Kind, error) {
	kind := domain.Kind(strings.ToLower(strings.TrimSpace(arg)))
	if !kind.Valid() {
		names := make([]string, 0, len(domain.Kinds()))
		for _, k := range domain.Kinds() {
			names = append(names, string(k))
		}
		return "", fmt.Errorf("unknown kind %q: must be one of %s", arg, strings.Join(names, ", "))
	}
	return kind, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
