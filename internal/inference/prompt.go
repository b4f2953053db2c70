package inference

import (
	"fmt"
	"strings"

	"github.com/wolfman30/inbound-coalescer/internal/agent"
)

var operatingInstructions = []string{
	"Prefer the knowledge base answers when they are relevant to the question.",
	"Be concise and conversational; this is a chat, not an email.",
	"If the request is ambiguous or you are not sure, ask a short clarifying question instead of guessing.",
	"The user may have sent several messages in a row; answer them together as one reply.",
	"Lines starting with [Áudio], [Imagem] or [Vídeo] describe media the user sent.",
}

// BuildSystemPrompt assembles the system instruction blocks for cfg.
func BuildSystemPrompt(cfg *agent.Config) []string {
	if cfg == nil {
		return []string{strings.Join(operatingInstructions, "\n")}
	}
	blocks := make([]string, 0, 4)

	if persona := personaBlock(cfg.Persona); persona != "" {
		blocks = append(blocks, persona)
	}

	if len(cfg.KnowledgeBase) > 0 {
		var kb strings.Builder
		kb.WriteString("KNOWLEDGE BASE:")
		for _, entry := range cfg.KnowledgeBase {
			q := strings.TrimSpace(entry.Question)
			a := strings.TrimSpace(entry.Answer)
			if q == "" || a == "" {
				continue
			}
			fmt.Fprintf(&kb, "\nQ: %s\nA: %s", q, a)
		}
		if kb.Len() > len("KNOWLEDGE BASE:") {
			blocks = append(blocks, kb.String())
		}
	}

	var rules []string
	for _, rule := range cfg.Rules {
		if rule = strings.TrimSpace(rule); rule != "" {
			rules = append(rules, "- "+rule)
		}
	}
	if len(rules) > 0 {
		blocks = append(blocks, "RULES:\n"+strings.Join(rules, "\n"))
	}

	instructions := append([]string(nil), operatingInstructions...)
	if lang := strings.TrimSpace(cfg.Language); lang != "" {
		instructions = append(instructions, fmt.Sprintf("Always reply in %s.", lang))
	}
	blocks = append(blocks, "INSTRUCTIONS:\n"+strings.Join(instructions, "\n"))
	return blocks
}

func personaBlock(p agent.Persona) string {
	var parts []string
	switch {
	case p.Name != "" && p.Company != "":
		parts = append(parts, fmt.Sprintf("You are %s, representing %s.", p.Name, p.Company))
	case p.Name != "":
		parts = append(parts, fmt.Sprintf("You are %s.", p.Name))
	case p.Company != "":
		parts = append(parts, fmt.Sprintf("You are an assistant representing %s.", p.Company))
	}
	if p.Role != "" {
		parts = append(parts, "Your role: "+p.Role+".")
	}
	if p.Tone != "" {
		parts = append(parts, "Tone: "+p.Tone+".")
	}
	if p.Description != "" {
		parts = append(parts, p.Description)
	}
	return strings.Join(parts, " ")
}
