package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/LubyRuffy/freeloader"
	"github.com/LubyRuffy/freeloader/backend"
	"github.com/LubyRuffy/freeloader/cookiestore"
	"github.com/spf13/cobra"
)

func newAskCmd(global *globalOptions) *cobra.Command {
	var (
		model  string
		system string
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt to the backend and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global, nil)
			if err != nil {
				return err
			}
			kind, err := cfg.BackendKind()
			if err != nil {
				return err
			}
			adapter, err := backend.New(backend.Config{
				Kind:             kind,
				BaseURL:          cfg.BackendURL,
				FirstByteTimeout: cfg.FirstByteTimeout,
			})
			if err != nil {
				return err
			}

			var cookies []cookiestore.Record
			if cfg.Cookies.Enabled {
				store, err := cookiestore.Open(cfg.Cookies.StorePath)
				if err != nil {
					return err
				}
				domain, err := cookieDomain(cfg)
				if err != nil {
					return err
				}
				cookies = store.Lookup(domain)
			}

			if model == "" {
				model = freeloader.CatalogFor(kind)[0].ID
			}
			var messages []backend.Message
			if s := strings.TrimSpace(system); s != "" {
				messages = append(messages, backend.Message{Role: "system", Content: s})
			}
			messages = append(messages, backend.Message{Role: "user", Content: strings.Join(args, " ")})

			sr, err := adapter.StreamChatCompletion(cmd.Context(), &backend.ChatRequest{
				Model:    model,
				Messages: messages,
				Stream:   true,
			}, cookies)
			if err != nil {
				return askError(err)
			}
			defer sr.Close()

			out := cmd.OutOrStdout()
			for {
				reply, err := sr.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					fmt.Fprintln(out)
					return askError(err)
				}
				if reply == nil {
					continue
				}
				if reply.Content != "" {
					fmt.Fprint(out, reply.Content)
				}
				if reply.Final {
					break
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (default: first model of the backend catalog)")
	cmd.Flags().StringVar(&system, "system", "", "optional system prompt")
	return cmd
}

func askError(err error) error {
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		return fmt.Errorf("%w (run: freeloader cookies import)", err)
	case errors.Is(err, backend.ErrBackendUnreachable):
		return fmt.Errorf("%w (is the backend running?)", err)
	}
	return err
}
