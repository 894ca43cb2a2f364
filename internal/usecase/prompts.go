package usecase

// SuggestedPrompts are offered on the initial screen.
var SuggestedPrompts = []string{
	"Summarize the current status of my projects",
	"What should I prioritize this week?",
	"Draft a short project update for my team",
	"Find recent news relevant to my work",
}

const (
	// SetupTurnID identifies the system turn shown when no model session
	// could be established.
	SetupTurnID   = "apisetup_error"
	SetupFailText = "Failed to initialize PHAI. Please check your API key configuration."
)
