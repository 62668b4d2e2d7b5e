package prompts

import "fmt"

// Scripted lines for the keypad fallback flow, used when no AI
// conversation session could be established.
const (
	ScriptedMenu = "Press 1 to hear about our current offers, press 2 if you would like a call back another time, or press 9 to stop receiving calls from us."

	ScriptedPitch = "We supply thermal receipt rolls that last 40 percent longer than standard ones, with free sample packs for new customers. A representative will follow up with the details."

	ScriptedDefer = "No problem, we will call you back at a better time. Thank you and goodbye."

	ScriptedOptOut = "Understood. We have removed your number from our calling list. You will not hear from us again. Goodbye."

	ScriptedInvalidChoice = "Sorry, that was not a valid choice. Press 1 for offers, 2 for a call back, or 9 to opt out."

	ScriptedGoodbye = "We did not receive a response. Thank you for your time, goodbye."
)

// ScriptedWelcome is the opening line for scripted and media-only calls.
func ScriptedWelcome(agentName string) string {
	return fmt.Sprintf("Hello, this is %s calling from Premium Paper Solutions about our receipt roll service.", agentName)
}

// WelcomeInstruction asks the AI session to produce the opening line
// itself; it is sent once when the conversation becomes active.
func WelcomeInstruction(agentName string) string {
	return fmt.Sprintf("The call has just connected. Greet the customer warmly as %s, introduce yourself in one short sentence, and ask if now is a good time to talk.", agentName)
}
