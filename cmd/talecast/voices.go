package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/talecast/internal/config"
	"github.com/MrWong99/talecast/pkg/provider/tts"
)

func newVoicesCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voice catalog of the configured TTS provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			p, err := reg.CreateTTS(cfg.Providers.TTS)
			if err != nil {
				return err
			}
			if c, ok := p.(io.Closer); ok {
				defer c.Close()
			}
			return listVoices(cmd.Context(), cmd.OutOrStdout(), p, cfg.Voices)
		},
	}
}

func listVoices(ctx context.Context, w io.Writer, p tts.Provider, vc config.VoicesConfig) error {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	pinnedBy := make(map[string][]string)
	for character, voiceID := range vc.Pins {
		pinnedBy[voiceID] = append(pinnedBy[voiceID], character)
	}

	rows := make([][]string, 0, len(voices))
	for _, v := range voices {
		use := pinnedBy[v.ID]
		slices.Sort(use)
		if v.ID == vc.NarratorVoiceID {
			use = append([]string{"(narrator)"}, use...)
		}
		rows = append(rows, []string{v.ID, v.Name, v.Provider, metadataString(v.Metadata), strings.Join(use, ", ")})
	}
	renderTable(w, []string{"ID", "Name", "Provider", "Attributes", "Used by"}, rows)
	fmt.Fprintf(w, "%d voices\n", len(voices))
	return nil
}

func metadataString(md map[string]string) string {
	keys := slices.Sorted(maps.Keys(md))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, " ")
}
