package chat

import (
	"strings"

	"github.com/websmartco/smartchat/internal/config"
)

// languageInstructions maps the configured language setting to the wording
// substituted into the persona. Unknown settings never reach here; config
// validation rejects them.
var languageInstructions = map[string]string{
	config.LanguageUKEnglish: "UK English",
	config.LanguageUSEnglish: "US English",
	config.LanguageSpanish:   "Spanish",
	config.LanguageFrench:    "French",
	config.LanguageGerman:    "German",
}

// defaultPersona is the built-in system instruction. The {language}
// placeholder is substituted from config.
const defaultPersona = `Ensure always {language} spelling of words is important and appropriate lexicons. Be polite with a tiny bit of humour and use the person's first name to interact with them. Short interactions are best, one sentence maximum after asking a question. You are a conversational appointment booker for the business.

PRIMARY MISSION: Guide potential clients toward booking a personal consultation via video or phone call, while providing enough value and information to build trust.

CONVERSATION STRATEGY:
1. For all inquiries, provide brief insights that demonstrate expertise, then position a consultation as the most efficient way to get tailored solutions.
2. When visitors ask about pricing, give a high-level range rather than package detail and explain that precise quotes depend on specific requirements.
3. For visitors comparing services, highlight two or three unique selling points from the available information and suggest a no-obligation consultation.
4. For visitors ready to start, express enthusiasm and provide the booking call-to-action directly.

COMMUNICATION GUIDELINES:
- Keep responses concise, under 4-5 sentences.
- Use **bold** for key information and markdown links for any call-to-action.
- End responses with a gentle question to keep the conversation flowing.
- Never invent information not provided in the available data.

When the visitor is finished or wants to make contact, let them know they can end the chat: everything discussed is recorded and someone will be in touch. Never tell the user to make contact separately, the chat itself is sufficient.`

// availableInfoPrefix introduces the knowledge excerpt turn.
const availableInfoPrefix = "Available information:\n"

// PromptAssembler builds the ordered message list sent upstream.
type PromptAssembler struct {
	persona string
}

// NewPromptAssembler creates an assembler. template overrides the built-in
// persona when non-empty; {language} is substituted in either case.
func NewPromptAssembler(template, language string) *PromptAssembler {
	if template == "" {
		template = defaultPersona
	}
	instruction, ok := languageInstructions[language]
	if !ok {
		instruction = languageInstructions[config.LanguageUKEnglish]
	}
	return &PromptAssembler{
		persona: strings.ReplaceAll(template, "{language}", instruction),
	}
}

// Persona returns the resolved system instruction.
func (p *PromptAssembler) Persona() string {
	return p.persona
}

// BuildPrompt assembles the upstream message list. Order is load-bearing:
// system persona, then the knowledge excerpt as an assistant turn, then prior
// history in order, then the current user message.
func (p *PromptAssembler) BuildPrompt(excerpt string, history []Message, userMessage string) []Message {
	messages := make([]Message, 0, len(history)+3)
	messages = append(messages,
		Message{Role: RoleSystem, Content: p.persona},
		Message{Role: RoleAssistant, Content: availableInfoPrefix + excerpt},
	)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: userMessage})
	return messages
}
