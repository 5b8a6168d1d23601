package widget

// BotName is the assistant display name shown in the widget header.
const BotName = "Smart Bot"

// Popup menu copy.
const (
	PopupTitle       = "🚀 Ready to Launch?"
	PopupDescription = "Let's build you a high-impact website that looks great and performs even better.\n\nWant to learn how I can help your business grow?"
	PopupChatButton  = "Ask the AI 🤖"
	PopupDemoButton  = "Book a Demo 👨‍💼"
)

// Service selection screen copy.
const (
	ServiceTitle    = "What can I help you with?"
	ServiceSubtitle = "Select the service you're most interested in:"
)

// ServiceOption is one entry on the service selection screen.
type ServiceOption struct {
	Display string `json:"display"`
	Key     string `json:"json_key"`
}

// DefaultServices is the service selection menu in display order.
var DefaultServices = []ServiceOption{
	{Display: "Website Design", Key: "website_design"},
	{Display: "SEO (Search Engine Optimization)", Key: "seo"},
	{Display: "Website Care Plan", Key: "maintenance"},
	{Display: "Content Creation", Key: "content"},
	{Display: "Website Improvements", Key: "improvements"},
	{Display: "Something else", Key: "general"},
}

// initialResponses seeds the first assistant message after a service is
// picked, keyed by ServiceOption.Key.
var initialResponses = map[string]string{
	"website_design": "Great choice! Before I tell you about our website design service, I'd like to know if you're:\n\n1) Ready to start a project now\n2) Looking for pricing information\n3) Just researching options?",
	"seo":            "SEO is one of our specialities! Are you:\n\n1) Ready to start improving your rankings now\n2) Looking for pricing information\n3) Just researching options?",
	"maintenance":    "Our Website Care Plan keeps your site secure and up to date. Are you:\n\n1) Ready to get your site looked after now\n2) Looking for pricing information\n3) Just researching options?",
	"content":        "Content that brings visitors in! Are you:\n\n1) Ready to start publishing now\n2) Looking for pricing information\n3) Just researching options?",
	"improvements":   "Happy to help improve your existing website. Are you:\n\n1) Ready to make changes now\n2) Looking for pricing information\n3) Just researching options?",
	"general":        "Hi there! Before I tell you about our web services, I'd like to know if you're:\n\n1) Ready to start a project now\n2) Looking for pricing information\n3) Just researching options?",
}

// defaultSuggestions shows when no service-specific set applies.
var defaultSuggestions = []string{
	"Tell me more",
	"What are the prices?",
	"How do I get started?",
	"Can I schedule a call?",
}

// suggestionSets are quick replies offered alongside the first assistant
// message, keyed by ServiceOption.Key.
var suggestionSets = map[string][]string{
	"website_design": {
		"What does a basic website include?",
		"How long does it take?",
		"Can you show me examples?",
		"What about hosting?",
	},
	"seo": {
		"Tell me about SEO packages",
		"Do you manage Google Ads?",
		"What results can I expect?",
		"How do you track success?",
	},
	"content": {
		"How many blogs per month?",
		"What topics do you cover?",
		"Do you include images?",
		"Can I review before publishing?",
	},
}

// InitialResponse returns the seeded first assistant message for a service
// key, falling back to the general template for unknown keys.
func InitialResponse(key string) string {
	if r, ok := initialResponses[key]; ok {
		return r
	}
	return initialResponses["general"]
}

// Suggestions returns the quick replies for a service key.
func Suggestions(key string) []string {
	if s, ok := suggestionSets[key]; ok {
		return s
	}
	return defaultSuggestions
}

// validServiceKey reports whether key is one of the configured options.
func validServiceKey(key string) bool {
	for _, opt := range DefaultServices {
		if opt.Key == key {
			return true
		}
	}
	return false
}
