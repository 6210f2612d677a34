package github

import "fmt"

// Message renders a progress comment in the attributed format
// "{runID}_{agent}: body", with the agent session appended when known.
// Every comment the engine posts goes through this function so that readers
// and the trigger classifier can attribute it to a run.
func Message(runID, agentName, sessionID, body string) string {
	if sessionID != "" {
		return fmt.Sprintf("%s_%s_%s: %s", runID, agentName, sessionID, body)
	}
	return fmt.Sprintf("%s_%s: %s", runID, agentName, body)
}

// BotMessage prefixes an attributed comment with the bot marker so ingress
// can recognize and skip the engine's own comments.
func BotMessage(marker, runID, agentName, sessionID, body string) string {
	return marker + " " + Message(runID, agentName, sessionID, body)
}
