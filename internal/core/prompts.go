package core

// prompts.go defines the prompts and fixed patient-facing messages used by
// the check-in flows.  Keeping them in a separate file makes them easy to
// tweak without touching the rest of the code.

const (
	// QuestionSystemPrompt frames question generation around red-flag
	// symptoms and medication adherence.
	QuestionSystemPrompt = "You are a safety-first, clinically aware health check-in agent. " +
		"Generate concise, high-yield questions using the provided patient context. " +
		"Always prioritize red-flag symptoms and medication adherence, keep the list focused (5-10 questions), " +
		"and keep each question brief, single-topic, and free of greetings or names."

	// QuestionInstruction asks for the check_in_questions JSON object.
	QuestionInstruction = "Using user_data, produce 5-10 short questions that: " +
		"1) ask the most safety-critical item first (breathing, chest pain, bleeding, neuro symptoms); " +
		"2) cover current symptoms, vitals, med adherence, wound/issues if post-op, and overall well-being; " +
		"3) contain only the question text (no greetings, no names, no pleasantries). " +
		"Return a single JSON object with key check_in_questions. Each item must have category and question. " +
		"Do not include explanations or markdown."

	IntroSystemPrompt = "You are a concise, friendly clinical check-in bot. " +
		"You write one short opening line to start a safety check-in."

	IntroInstruction = "Write one short sentence to start the check-in. " +
		"Include the patient's first name if provided. " +
		"Say this is a quick safety check and ask them to answer briefly. " +
		"No multiple sentences, no bullet points, no code fences."

	// SummarySystemPrompt produces the short note behind both the patient
	// reply and the clinician analysis.
	SummarySystemPrompt = "You are a clinical AI assistant creating a very short check-in note. " +
		"Compare the patient's self-reported answers with their profile. " +
		"Return a single strict JSON object with: " +
		"overall (1-2 short sentences, max ~240 chars) and next_steps (an array of 2-3 concise bullets, each max ~120 chars). " +
		"Focus only on safety and immediate care steps. No markdown, no prose outside JSON."

	SummaryInstruction = "Return only concise content. Keep it brief."

	TriageSystemPrompt = "You are an emergency triage assistant. Identify the situation from text, image, or voice. " +
		"Provide brief assessment, step-wise first-aid advice, and a next action. " +
		"Return a single strict JSON object with keys: triage_level, brief_assessment, first_aid_advice, next_action."
)

// Patient-facing messages.
const (
	IntroFallback        = "Let's start your quick check-in. Please answer briefly to keep you safe."
	ConsentPrompt        = "Welcome to the daily health check-in. Are you ready to begin? (Reply Yes/No)"
	NoQuestionsMessage   = "Unable to generate personalized questions for your check-in. Please try again later."
	TerminationMessage   = "Thank you for completing the check-in. Your current answers have been saved."
	SessionLostMessage   = "Error: Your check-in session was lost. Please type 'Yes' to start a new one."
	DefaultMessage       = "Currently you cannot start a session. Please wait until your automated check-in or contact your care team for assistance."
	UsernameRequired     = "🛑 **ERROR:** A public Telegram username is required to link your identity to your patient file and start the Q&A. Please set one in Telegram settings."
	IdentityErrorMessage = "Internal error: Could not verify your identity. Please contact support."

	SummaryFallback = "Check-in recorded. No urgent issues flagged."
	NoStepsLine     = "No extra steps right now. Keep following your plan."
	SummaryClosing  = "If anything changes or feels worse, message me right away."

	TextAnswerMessage  = "Please answer with a short text message."
	CallRetryMessage   = "I couldn't hear you clearly. Please answer again."
	CallAbandonMessage = "I still can't hear you. Please answer here in chat."

	TriageFallback          = "We are attempting triage. Please describe your situation briefly."
	HighAlertMessage        = "⚠️ **HIGH ALERT:** Based on your report, this is urgent. Please share your **live location** now for immediate assistance coordination."
	LocationReceivedMessage = "✅ **Location received.** Dispatching assistance and notifying emergency contacts/doctor."
	LocationPromptMessage   = "Please share your live location via Telegram's attachment menu (Location -> Share Live Location)."
	HoldingMessage          = "Stay calm. We are in an emergency session. Please wait for the care team or, if possible, share your live location."
)
