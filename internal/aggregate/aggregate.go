// Package aggregate merges buffered fragments into the single context string
// handed to the inference engine.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/inbound-coalescer/internal/buffer"
)

const (
	fragmentSeparator = "\n\n"

	audioMarker            = "[Áudio]"
	audioUnavailableMarker = "[Áudio - transcrição indisponível]"
	imageMarker            = "[Imagem]"
	imageReceivedMarker    = "[Imagem recebida]"
	videoMarker            = "[Vídeo]"
	videoReceivedMarker    = "[Vídeo recebido]"
)

// Options tunes rendering.
type Options struct {
	// Summary appends a trailing line counting media kinds and listing captions.
	Summary bool
}

// Aggregate orders msgs by timestamp (stable on ties) and renders them as one
// string, fragments separated by a blank line. Empty fragments are skipped.
func Aggregate(msgs []buffer.Message, opts Options) string {
	if len(msgs) == 0 {
		return ""
	}
	ordered := make([]buffer.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	fragments := make([]string, 0, len(ordered)+1)
	for _, msg := range ordered {
		if rendered := Render(msg); rendered != "" {
			fragments = append(fragments, rendered)
		}
	}
	if opts.Summary {
		if line := summaryLine(ordered); line != "" {
			fragments = append(fragments, line)
		}
	}
	return strings.Join(fragments, fragmentSeparator)
}

// Render formats a single message according to its kind.
func Render(msg buffer.Message) string {
	text := strings.TrimSpace(msg.Text)
	transcript := strings.TrimSpace(msg.Transcript)

	switch msg.Kind {
	case buffer.KindAudio:
		if transcript == "" {
			return audioUnavailableMarker
		}
		return audioMarker + " " + transcript
	case buffer.KindImage:
		return renderVisual(imageMarker, imageReceivedMarker, text, transcript)
	case buffer.KindVideo:
		return renderVisual(videoMarker, videoReceivedMarker, text, transcript)
	default:
		return text
	}
}

func renderVisual(marker, receivedMarker, caption, description string) string {
	switch {
	case caption != "" && description != "":
		return marker + " " + caption + " (" + description + ")"
	case caption != "":
		return marker + " " + caption
	case description != "":
		return marker + " " + description
	default:
		return receivedMarker
	}
}

func summaryLine(msgs []buffer.Message) string {
	var audios, images, videos int
	var captions []string
	for _, msg := range msgs {
		switch msg.Kind {
		case buffer.KindAudio:
			audios++
		case buffer.KindImage:
			images++
		case buffer.KindVideo:
			videos++
		default:
			continue
		}
		if caption := strings.TrimSpace(msg.Text); caption != "" {
			captions = append(captions, fmt.Sprintf("%q", caption))
		}
	}
	if audios+images+videos == 0 {
		return ""
	}

	var counts []string
	if audios > 0 {
		counts = append(counts, fmt.Sprintf("%d áudio(s)", audios))
	}
	if images > 0 {
		counts = append(counts, fmt.Sprintf("%d imagem(ns)", images))
	}
	if videos > 0 {
		counts = append(counts, fmt.Sprintf("%d vídeo(s)", videos))
	}
	line := "[Resumo: " + strings.Join(counts, ", ")
	if len(captions) > 0 {
		line += "; legendas: " + strings.Join(captions, ", ")
	}
	return line + "]"
}
